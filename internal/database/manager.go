package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	dbconfig "yacs/pkg/database"
	"yacs/pkg/types"
)

// Manager implements interfaces.Storage on SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager creates a new database manager
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Storage owns retry; one retry after the configured delay
			err := op.operation(m.db)
			if err != nil && isRetryable(err) {
				log.Warn().Err(err).Dur("delay", m.config.WriteRetryDelay).Msg("database write failed, retrying")
				time.Sleep(m.config.WriteRetryDelay)
				err = op.operation(m.db)
				if err != nil {
					log.Error().Err(err).Msg("database write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Debug().Msg("database write loop shutting down")
			return
		}
	}
}

// isRetryable reports whether a write failure is transient (lock contention)
// TECHNICAL DISCOVERY: Constraint violations never succeed on retry, busy/locked errors can
func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "locked") || strings.Contains(msg, "busy")
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("%w: database manager is closed", types.ErrStorageFailure)
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-time.After(30 * time.Second):
		return fmt.Errorf("%w: write operation timeout", types.ErrStorageFailure)
	case <-m.shutdown:
		return fmt.Errorf("%w: database manager is shutting down", types.ErrStorageFailure)
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := <-result; err != nil {
		return fmt.Errorf("%w: %w", types.ErrStorageFailure, err)
	}
	return nil
}

// ListChannels returns non-deleted channels ordered by id
func (m *Manager) ListChannels(ctx context.Context, includeAdminOnly bool) ([]*types.Channel, error) {
	query := `SELECT ID, NAME, ADMIN_ONLY FROM CHANNEL WHERE IS_DELETED = 0`
	if !includeAdminOnly {
		query += ` AND ADMIN_ONLY = 0`
	}
	query += ` ORDER BY ID ASC`

	rows, err := m.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query channels: %v", types.ErrStorageFailure, err)
	}
	defer func() { _ = rows.Close() }()

	channels := make([]*types.Channel, 0)
	for rows.Next() {
		var ch types.Channel
		var adminOnly int
		if err := rows.Scan(&ch.ID, &ch.Name, &adminOnly); err != nil {
			return nil, fmt.Errorf("%w: failed to scan channel row: %v", types.ErrStorageFailure, err)
		}
		ch.IsAdminOnly = adminOnly != 0
		channels = append(channels, &ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating channel rows: %v", types.ErrStorageFailure, err)
	}
	return channels, nil
}

// ChannelAllowed reports whether id names a live channel the caller may enter
func (m *Manager) ChannelAllowed(ctx context.Context, id int64, callerIsAdmin bool) (bool, error) {
	var adminOnly int
	err := m.db.QueryRowContext(ctx,
		`SELECT ADMIN_ONLY FROM CHANNEL WHERE ID = ? AND IS_DELETED = 0`, id,
	).Scan(&adminOnly)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: failed to query channel: %v", types.ErrStorageFailure, err)
	}
	return adminOnly == 0 || callerIsAdmin, nil
}

// CreateChannel inserts a public channel
func (m *Manager) CreateChannel(ctx context.Context, name string) (int64, error) {
	var id int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `INSERT INTO CHANNEL (NAME, ADMIN_ONLY) VALUES (?, 0)`, name)
		if err != nil {
			return fmt.Errorf("failed to insert channel: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// RenameChannel updates a channel's display name
func (m *Manager) RenameChannel(ctx context.Context, id int64, name string) error {
	return m.updateOne(ctx, `UPDATE CHANNEL SET NAME = ? WHERE ID = ?`, name, id)
}

// ToggleChannelPrivacy flips the admin-only flag
func (m *Manager) ToggleChannelPrivacy(ctx context.Context, id int64) error {
	return m.updateOne(ctx, `UPDATE CHANNEL SET ADMIN_ONLY = 1 - ADMIN_ONLY WHERE ID = ?`, id)
}

// DeleteChannel soft-deletes a channel
func (m *Manager) DeleteChannel(ctx context.Context, id int64) error {
	return m.updateOne(ctx, `UPDATE CHANNEL SET IS_DELETED = 1 WHERE ID = ?`, id)
}

// InsertMessage stores a rendered message
func (m *Manager) InsertMessage(ctx context.Context, bodyHTML string, channelID int64, author string) (*types.Message, error) {
	msg := &types.Message{
		ChannelID:   channelID,
		Author:      author,
		Body:        bodyHTML,
		Timestamp:   time.Now().UTC().Truncate(time.Second),
		Attachments: []string{},
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO CHAT (BODY, CREATED, CHANNEL_ID, AUTHOR) VALUES (?, ?, ?, ?)`,
			bodyHTML, msg.Timestamp.Format(types.DatetimeLayout), channelID, author,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		msg.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// LinkAttachment records that a message carries a resource
func (m *Manager) LinkAttachment(ctx context.Context, messageID int64, resourceID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO ATTACHMENT (CHAT_ID, RESOURCE_ID) VALUES (?, ?)`, messageID, resourceID)
		if err != nil {
			return fmt.Errorf("failed to link attachment: %w", err)
		}
		return nil
	})
}

// FetchMessages returns non-deleted messages newest first
func (m *Manager) FetchMessages(ctx context.Context, channelID int64, count, offset int) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT ID, BODY, CREATED, CHANNEL_ID, AUTHOR
		FROM CHAT
		WHERE CHANNEL_ID = ? AND IS_DELETED = 0
		ORDER BY ID DESC
		LIMIT ? OFFSET ?
	`, channelID, count, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query messages: %v", types.ErrStorageFailure, err)
	}

	messages := make([]*types.Message, 0, count)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: error iterating message rows: %v", types.ErrStorageFailure, err)
	}

	// TECHNICAL DISCOVERY: Attachment lookups run after the cursor is closed so a
	// single pooled connection is never asked to hold two result sets
	for _, msg := range messages {
		if msg.Attachments, err = m.AttachmentsOf(ctx, msg.ID); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

// GetMessage loads one live message; deleted ones report ErrNotFound
func (m *Manager) GetMessage(ctx context.Context, id int64) (*types.Message, error) {
	row := m.db.QueryRowContext(ctx,
		`SELECT ID, BODY, CREATED, CHANNEL_ID, AUTHOR FROM CHAT WHERE ID = ? AND IS_DELETED = 0`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, err
	}
	if msg.Attachments, err = m.AttachmentsOf(ctx, id); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkMessageDeleted hides a message from history
func (m *Manager) MarkMessageDeleted(ctx context.Context, id int64) error {
	return m.updateOne(ctx, `UPDATE CHAT SET IS_DELETED = 1 WHERE ID = ?`, id)
}

// AttachmentsOf lists the resource ids linked to a message
func (m *Manager) AttachmentsOf(ctx context.Context, messageID int64) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT RESOURCE_ID FROM ATTACHMENT WHERE CHAT_ID = ? ORDER BY ROWID`, messageID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query attachments: %v", types.ErrStorageFailure, err)
	}
	defer func() { _ = rows.Close() }()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: failed to scan attachment: %v", types.ErrStorageFailure, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating attachments: %v", types.ErrStorageFailure, err)
	}
	return ids, nil
}

// InsertResource records a submitted upload
func (m *Manager) InsertResource(ctx context.Context, res *types.Resource) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			`INSERT INTO RESOURCE (UUID, FILE_NAME, MIME_TYPE) VALUES (?, ?, ?)`,
			res.ID, res.FileName, res.MimeType)
		if err != nil {
			return fmt.Errorf("failed to insert resource: %w", err)
		}
		return nil
	})
}

// GetResource returns a non-expired resource or types.ErrNotFound
func (m *Manager) GetResource(ctx context.Context, id string) (*types.Resource, error) {
	res := &types.Resource{ID: id}
	err := m.db.QueryRowContext(ctx,
		`SELECT FILE_NAME, MIME_TYPE FROM RESOURCE WHERE IS_EXPIRED = 0 AND UUID = ?`, id,
	).Scan(&res.FileName, &res.MimeType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query resource: %v", types.ErrStorageFailure, err)
	}
	return res, nil
}

// MarkResourceExpired hides a resource from download
func (m *Manager) MarkResourceExpired(ctx context.Context, id string) error {
	return m.updateOne(ctx, `UPDATE RESOURCE SET IS_EXPIRED = 1 WHERE UUID = ?`, id)
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM CHANNEL").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// updateOne runs an UPDATE that must touch exactly one row
func (m *Manager) updateOne(ctx context.Context, query string, args ...interface{}) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return types.ErrNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var msg types.Message
	var created string
	err := row.Scan(&msg.ID, &msg.Body, &created, &msg.ChannelID, &msg.Author)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan message row: %v", types.ErrStorageFailure, err)
	}

	// FUNCTIONAL DISCOVERY: CREATED is TEXT so both drivers hand back the same layout
	if ts, perr := time.ParseInLocation(types.DatetimeLayout, created, time.UTC); perr == nil {
		msg.Timestamp = ts
	}
	return &msg, nil
}
