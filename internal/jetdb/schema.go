package jetdb

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/starford/cctsync/internal/models"
)

// The helpers below create and fill JetEngine-shaped tables in a local
// database. On a real site JetEngine owns these tables and they are never
// called.

// EnsureCCTTable creates the table of a CCT with one text column per field.
func (db *DB) EnsureCCTTable(ctx context.Context, cct models.CCT) error {
	table, err := db.CCTTable(cct.Slug)
	if err != nil {
		return err
	}
	idCol := "`_ID` INTEGER PRIMARY KEY AUTOINCREMENT"
	textType := "TEXT"
	if db.dialect == MySQL {
		idCol = "`_ID` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
		textType = "LONGTEXT"
	}
	cols := []string{idCol, "`cct_status` VARCHAR(20) DEFAULT 'publish'"}
	for _, f := range cct.Fields {
		col, err := column(f.Name)
		if err != nil {
			return err
		}
		cols = append(cols, col+" "+textType)
	}
	_, err = db.conn.ExecContext(ctx,
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(table), strings.Join(cols, ", ")))
	if err != nil {
		return fmt.Errorf("jetdb: create %s: %w", table, err)
	}
	return nil
}

// EnsureRelationTable creates the join table of a relation.
func (db *DB) EnsureRelationTable(ctx context.Context, id models.RelationID) error {
	table, err := db.RelationTable(id)
	if err != nil {
		return err
	}
	idCol := "`_ID` INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.dialect == MySQL {
		idCol = "`_ID` BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
	}
	_, err = db.conn.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		%s,
		rel_id VARCHAR(40),
		parent_rel INTEGER,
		parent_object_id BIGINT NOT NULL,
		child_object_id BIGINT NOT NULL
	)`, quote(table), idCol))
	if err != nil {
		return fmt.Errorf("jetdb: create %s: %w", table, err)
	}
	return nil
}

// InsertItem adds a row and returns its new _ID.
func (db *DB) InsertItem(ctx context.Context, cct string, item models.Item) (int64, error) {
	table, err := db.CCTTable(cct)
	if err != nil {
		return 0, err
	}
	names := make([]string, 0, len(item))
	for name := range item {
		if name != models.IDField {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	cols := make([]string, 0, len(names))
	marks := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, name := range names {
		col, err := column(name)
		if err != nil {
			return 0, err
		}
		val, err := encodeValue(item[name])
		if err != nil {
			return 0, err
		}
		cols = append(cols, col)
		marks = append(marks, "?")
		args = append(args, val)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if len(cols) == 0 {
		query = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quote(table))
		if db.dialect == MySQL {
			query = fmt.Sprintf("INSERT INTO %s () VALUES ()", quote(table))
		}
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("jetdb: insert %s: %w", cct, err)
	}
	return res.LastInsertId()
}

// Link records a parent/child pair in a relation's join table.
func (db *DB) Link(ctx context.Context, rel models.RelationID, parentID, childID int64) error {
	table, err := db.RelationTable(rel)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (rel_id, parent_object_id, child_object_id) VALUES (?, ?, ?)", quote(table)),
		rel.String(), parentID, childID)
	if err != nil {
		return fmt.Errorf("jetdb: link %d -> %d in relation %s: %w", parentID, childID, rel, err)
	}
	return nil
}
