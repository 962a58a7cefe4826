package interfaces

import (
	"context"

	"yacs/pkg/types"
)

// Storage handles all persistence of channels, messages and resources
// ARCHITECTURAL DISCOVERY: The core never assumes atomicity across two calls;
// each method is its own transaction on the storage side
type Storage interface {
	// ListChannels returns non-deleted channels ordered by id
	// FUNCTIONAL DISCOVERY: Admin-only channels are filtered unless includeAdminOnly is set
	ListChannels(ctx context.Context, includeAdminOnly bool) ([]*types.Channel, error)

	// ChannelAllowed reports whether id is an existing, non-deleted channel the caller may enter
	ChannelAllowed(ctx context.Context, id int64, callerIsAdmin bool) (bool, error)

	CreateChannel(ctx context.Context, name string) (int64, error)
	RenameChannel(ctx context.Context, id int64, name string) error
	ToggleChannelPrivacy(ctx context.Context, id int64) error
	DeleteChannel(ctx context.Context, id int64) error

	// InsertMessage stores a rendered message and returns the storage-assigned id
	// TECHNICAL DISCOVERY: Ids are monotonically increasing per database, which is the
	// only ordering clients use
	InsertMessage(ctx context.Context, bodyHTML string, channelID int64, author string) (*types.Message, error)
	LinkAttachment(ctx context.Context, messageID int64, resourceID string) error

	// FetchMessages returns non-deleted messages newest first
	FetchMessages(ctx context.Context, channelID int64, count, offset int) ([]*types.Message, error)
	GetMessage(ctx context.Context, id int64) (*types.Message, error)
	MarkMessageDeleted(ctx context.Context, id int64) error
	AttachmentsOf(ctx context.Context, messageID int64) ([]string, error)

	InsertResource(ctx context.Context, res *types.Resource) error
	GetResource(ctx context.Context, id string) (*types.Resource, error)
	MarkResourceExpired(ctx context.Context, id string) error

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
