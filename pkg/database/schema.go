package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs the table, column and index checks in order
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"CHANNEL":           "Chat rooms",
		"CHAT":              "Message storage",
		"RESOURCE":          "Uploaded file metadata",
		"ATTACHMENT":        "Message to resource links",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column names and declared types
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go scanners and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	expected := map[string]map[string]string{
		"CHANNEL": {
			"ID": "INTEGER", "NAME": "TEXT", "IS_DELETED": "INTEGER", "ADMIN_ONLY": "INTEGER",
		},
		"CHAT": {
			"ID": "INTEGER", "BODY": "TEXT", "CREATED": "TEXT", "CHANNEL_ID": "INTEGER",
			"AUTHOR": "TEXT", "IS_DELETED": "INTEGER",
		},
		"RESOURCE": {
			"UUID": "TEXT", "FILE_NAME": "TEXT", "MIME_TYPE": "TEXT", "IS_EXPIRED": "INTEGER",
		},
		"ATTACHMENT": {
			"CHAT_ID": "INTEGER", "RESOURCE_ID": "TEXT",
		},
	}

	for table, columns := range expected {
		if err := v.validateColumns(table, columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table, err)
		}
	}
	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_chat_channel_id": "Channel history paging",
		"idx_attachment_chat": "Attachment lookup per message",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that foreign keys are enforced on this connection
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`INSERT INTO CHAT (BODY, CHANNEL_ID, AUTHOR) VALUES ('probe', -1, 'probe')`)
	if err == nil {
		_, _ = v.db.Exec(`DELETE FROM CHAT WHERE CHANNEL_ID = -1`)
		return fmt.Errorf("foreign key constraint not enforced: CHAT.CHANNEL_ID")
	}
	return nil
}

func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[strings.ToUpper(name)] = strings.ToUpper(dataType)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
