// Package relayconfig holds the configuration surface described in
// spec.md §6, constructed with functional options the way the teacher's
// sibling client constructors (sqlstore.New, whatsmeow.NewClient) are.
package relayconfig

import "time"

// TTL defaults from spec.md §3/§6.
const (
	DefaultUserDevicesCacheTTL    = 5 * time.Minute
	DefaultMappingCacheTTL        = 3 * 24 * time.Hour
	DefaultMigratedSessionTTL     = 3 * 24 * time.Hour
	DefaultPeerSessionCacheTTL    = 5 * time.Minute
	DefaultSocketCloseTimeout     = 1500 * time.Millisecond
	DefaultLinkPreviewThumbWidth  = 192
	DefaultMaxMsgRetryCount       = 5
	DefaultGroupMetadataCacheTTL  = 5 * time.Minute
)

// GroupMetadata is the minimal shape the relay pipeline needs out of a
// group info fetch (spec.md §4.8).
type GroupMetadata struct {
	JID             string
	AddressingMode  string // "lid" or "pn", empty means "use default (lid)"
	ParticipantJIDs []string
}

// CachedGroupMetadataFunc looks up group metadata from a cache the host
// maintains; returning ok=false means "not cached, fetch fresh".
type CachedGroupMetadataFunc func(groupJID string) (meta *GroupMetadata, ok bool)

// PatchMessageResult is what PatchMessageBeforeSending may return: a
// single message applied to every recipient, or a per-recipient map
// keyed by recipient JID string (spec.md §4.7 point 1).
type PatchMessageResult struct {
	Single        any
	PerRecipient  map[string]any
	HasPerRecipient bool
}

// PatchMessageBeforeSendingFunc is the pre-send hook from spec.md §6.
type PatchMessageBeforeSendingFunc func(message any, recipients []string) (PatchMessageResult, error)

// Config carries every option named in spec.md §6's "Configuration
// surface" table.
type Config struct {
	UserDevicesCacheTTL time.Duration

	EnableRecentMessageCache bool
	MaxMsgRetryCount         int

	CachedGroupMetadata CachedGroupMetadataFunc

	PatchMessageBeforeSending PatchMessageBeforeSendingFunc

	EmitOwnEvents bool

	LinkPreviewImageThumbnailWidth int
	GenerateHighQualityLinkPreview bool

	MappingCacheTTL     time.Duration
	MigratedSessionTTL  time.Duration
	PeerSessionCacheTTL time.Duration
	SocketCloseTimeout  time.Duration
}

// Option mutates a Config being built by New.
type Option func(*Config)

// New builds a Config with spec.md's documented defaults, then applies
// opts in order.
func New(opts ...Option) *Config {
	c := &Config{
		UserDevicesCacheTTL:             DefaultUserDevicesCacheTTL,
		MaxMsgRetryCount:                DefaultMaxMsgRetryCount,
		LinkPreviewImageThumbnailWidth:  DefaultLinkPreviewThumbWidth,
		MappingCacheTTL:                 DefaultMappingCacheTTL,
		MigratedSessionTTL:              DefaultMigratedSessionTTL,
		PeerSessionCacheTTL:             DefaultPeerSessionCacheTTL,
		SocketCloseTimeout:              DefaultSocketCloseTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func WithEnableRecentMessageCache(enable bool) Option {
	return func(c *Config) { c.EnableRecentMessageCache = enable }
}

func WithMaxMsgRetryCount(n int) Option {
	return func(c *Config) { c.MaxMsgRetryCount = n }
}

func WithCachedGroupMetadata(fn CachedGroupMetadataFunc) Option {
	return func(c *Config) { c.CachedGroupMetadata = fn }
}

func WithPatchMessageBeforeSending(fn PatchMessageBeforeSendingFunc) Option {
	return func(c *Config) { c.PatchMessageBeforeSending = fn }
}

func WithEmitOwnEvents(emit bool) Option {
	return func(c *Config) { c.EmitOwnEvents = emit }
}

func WithLinkPreviewImageThumbnailWidth(w int) Option {
	return func(c *Config) { c.LinkPreviewImageThumbnailWidth = w }
}

func WithGenerateHighQualityLinkPreview(enable bool) Option {
	return func(c *Config) { c.GenerateHighQualityLinkPreview = enable }
}

func WithUserDevicesCacheTTL(ttl time.Duration) Option {
	return func(c *Config) { c.UserDevicesCacheTTL = ttl }
}
