package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hephaestus-ai/hephaestus/internal/core"
)

// CreateMemory persists an agent memory row. The embedding itself lives in
// the vector index; embedding_id links the two.
func (s *Store) CreateMemory(ctx context.Context, m *core.Memory) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, agent_id, content, memory_type, embedding_id, tags, related_files, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.AgentID, m.Content, m.MemoryType, m.EmbeddingID,
		marshalJSON(m.Tags), marshalJSON(m.RelatedFiles), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting memory %s: %w", m.ID, err)
	}
	return nil
}

// GetMemory loads one memory by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*core.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, agent_id, content, memory_type, embedding_id, tags, related_files, created_at
		FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound("memory", id)
	}
	return m, err
}

// ListMemories returns memories, optionally filtered by agent and type
// (empty values mean no filter), newest first.
func (s *Store) ListMemories(ctx context.Context, agentID string, memType core.MemoryType, limit int) ([]*core.Memory, error) {
	query := `
		SELECT id, agent_id, content, memory_type, embedding_id, tags, related_files, created_at
		FROM memories WHERE 1=1`
	var args []any
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	if memType != "" {
		query += ` AND memory_type = ?`
		args = append(args, string(memType))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var memories []*core.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func scanMemory(row rowScanner) (*core.Memory, error) {
	var m core.Memory
	var tags, files string
	err := row.Scan(&m.ID, &m.AgentID, &m.Content, &m.MemoryType, &m.EmbeddingID,
		&tags, &files, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Tags = unmarshalStrings(tags)
	m.RelatedFiles = unmarshalStrings(files)
	return &m, nil
}
