package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var storeTracer = otel.Tracer("services/ingest/store")

// StoredRecord is one persisted row.
type StoredRecord struct {
	Protocollo  string
	Fingerprint string
	Mapping     *Mapping
}

// StagedRecord is a record waiting to be written, produced by the
// pipeline after fingerprinting.
type StagedRecord struct {
	Protocollo  string
	Fingerprint string
	Mapping     *Mapping
}

// Store persists extracted records, one table per sub-schema. The
// persistence mode is fixed per sub-schema at construction.
type Store struct {
	db    *sql.DB
	modes map[string]Mode
}

// NewStore creates the backing tables for every declared sub-schema
// under its configured mode. Missing entries in `modes` default to
// upsert.
func NewStore(database *sql.DB, modes map[string]Mode) (Store, error) {
	resolved := make(map[string]Mode, len(SubSchemas))
	for name := range modes {
		if _, ok := SubSchemaByName(name); !ok {
			return Store{}, fmt.Errorf("persistence mode configured for unknown sub-schema %q", name)
		}
	}
	for _, schema := range SubSchemas {
		mode, ok := modes[schema.Name]
		if !ok {
			mode = ModeUpsert
		}
		resolved[schema.Name] = mode

		_, err := database.Exec(schema.CreateSQL(mode))
		if err != nil {
			return Store{}, fmt.Errorf("create table for %s: %w", schema.Name, err)
		}
	}
	return Store{db: database, modes: resolved}, nil
}

func (s Store) Mode(schema SubSchema) Mode {
	return s.modes[schema.Name]
}

// Exists reports whether any row for the identifier is already
// stored. Used by the pipeline as a coarse pre-filter before paying
// for an extraction.
func (s Store) Exists(ctx context.Context, schema SubSchema, protocollo string) (bool, error) {
	mode := s.Mode(schema)
	row := s.db.QueryRowContext(
		ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ? LIMIT 1", schema.Table(mode), schema.Key),
		protocollo,
	)
	return scanExists(row)
}

// ExistsFingerprint reports whether a row with the given content
// fingerprint is already stored.
func (s Store) ExistsFingerprint(ctx context.Context, schema SubSchema, fingerprint string) (bool, error) {
	mode := s.Mode(schema)
	row := s.db.QueryRowContext(
		ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE fingerprint = ? LIMIT 1", schema.Table(mode)),
		fingerprint,
	)
	return scanExists(row)
}

func scanExists(row *sql.Row) (bool, error) {
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Upsert writes a record under last-write-wins semantics. The single
// statement makes the row update all-or-nothing, concurrent upserts
// of the same protocollo never interleave partial fields.
func (s Store) Upsert(ctx context.Context, schema SubSchema, rec StagedRecord) error {
	ctx, span := storeTracer.Start(ctx, "store:Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("schema", schema.Name),
		attribute.String("protocollo", rec.Protocollo),
	)

	columns := append(schema.columns(), "fingerprint")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	updates := make([]string, 0, len(schema.Fields)+1)
	for _, f := range schema.Fields {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", f, f))
	}
	updates = append(updates, "fingerprint = excluded.fingerprint")

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		schema.Table(ModeUpsert),
		strings.Join(columns, ", "),
		placeholders,
		schema.Key,
		strings.Join(updates, ", "),
	)

	args := make([]any, 0, len(columns))
	args = append(args, rec.Protocollo)
	for _, f := range schema.Fields {
		args = append(args, rec.Mapping.Value(f))
	}
	args = append(args, rec.Fingerprint)

	_, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to exec upsert")
		return fmt.Errorf("upsert %s %s: %w", schema.Name, rec.Protocollo, err)
	}
	return nil
}

// AppendIfNew inserts the batch inside one transaction, silently
// skipping rows whose fingerprint already exists. Returns how many
// rows were actually inserted.
func (s Store) AppendIfNew(ctx context.Context, schema SubSchema, recs []StagedRecord) (int, error) {
	ctx, span := storeTracer.Start(ctx, "store:AppendIfNew")
	defer span.End()
	span.SetAttributes(
		attribute.String("schema", schema.Name),
		attribute.Int("batch_size", len(recs)),
	)

	if len(recs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to begin tx")
		return 0, err
	}
	defer tx.Rollback()

	columns := append(schema.columns(), "fingerprint")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(fingerprint) DO NOTHING",
		schema.Table(ModeAppend),
		strings.Join(columns, ", "),
		placeholders,
	)

	inserted := 0
	for _, rec := range recs {
		args := make([]any, 0, len(columns))
		args = append(args, rec.Protocollo)
		for _, f := range schema.Fields {
			args = append(args, rec.Mapping.Value(f))
		}
		args = append(args, rec.Fingerprint)

		res, err := tx.ExecContext(ctx, stmt, args...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to exec insert")
			return 0, fmt.Errorf("append %s %s: %w", schema.Name, rec.Protocollo, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to read rows affected")
			return 0, err
		}
		inserted += int(n)
	}

	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to commit")
		return 0, err
	}

	span.SetAttributes(attribute.Int("inserted", inserted))
	return inserted, nil
}

// Write persists a batch under the sub-schema's configured mode and
// returns how many rows actually landed.
func (s Store) Write(ctx context.Context, schema SubSchema, recs []StagedRecord) (int, error) {
	if s.Mode(schema) == ModeAppend {
		return s.AppendIfNew(ctx, schema, recs)
	}
	for _, rec := range recs {
		err := s.Upsert(ctx, schema, rec)
		if err != nil {
			return 0, err
		}
	}
	return len(recs), nil
}

// List reads back stored records for a sub-schema, newest last,
// bounded by `limit` (0 means no bound). Used by the operator CLI.
func (s Store) List(ctx context.Context, schema SubSchema, limit int) ([]StoredRecord, error) {
	mode := s.Mode(schema)
	columns := append(schema.columns(), "fingerprint")

	stmt := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), schema.Table(mode))
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredRecord
	for rows.Next() {
		dest := make([]sql.NullString, len(columns))
		ptrs := make([]any, len(columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		err = rows.Scan(ptrs...)
		if err != nil {
			return nil, err
		}

		m := NewMapping()
		for i, f := range schema.Fields {
			if dest[i+1].Valid {
				m.Set(f, dest[i+1].String)
			}
		}
		out = append(out, StoredRecord{
			Protocollo:  dest[0].String,
			Fingerprint: dest[len(dest)-1].String,
			Mapping:     m,
		})
	}
	return out, rows.Err()
}

// Count returns the number of stored rows for a sub-schema.
func (s Store) Count(ctx context.Context, schema SubSchema) (int64, error) {
	mode := s.Mode(schema)
	row := s.db.QueryRowContext(
		ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s", schema.Table(mode)),
	)
	var n int64
	err := row.Scan(&n)
	return n, err
}
