// Transaction blocks: BEGIN at the outermost level, savepoints when
// nested, flat reuse of the enclosing transaction on dialects without
// savepoint support.
package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// savepointName generates a collision-free savepoint identifier
func savepointName() string {
	return "sp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Block is an open transaction level. The zero depth block maps to a real
// transaction, nested blocks to savepoints. Commit and Rollback resolve
// the work so far and keep the block open; End closes it.
type Block struct {
	s         *Session
	savepoint string
	flat      bool
	closed    bool
}

// Begin opens a transaction block at the session's current depth
func (s *Session) Begin(ctx context.Context) (*Block, error) {
	if len(s.frames) == 0 {
		if err := s.control(ctx, "BEGIN"); err != nil {
			return nil, err
		}
		s.frames = append(s.frames, txFrame{})
		return &Block{s: s}, nil
	}
	if !s.db.dialect.Savepoints {
		// No savepoint support: the nested block shares the outcome of the
		// enclosing transaction.
		return &Block{s: s, flat: true}, nil
	}
	name := savepointName()
	if err := s.control(ctx, "SAVEPOINT "+name); err != nil {
		return nil, err
	}
	s.frames = append(s.frames, txFrame{savepoint: name})
	return &Block{s: s, savepoint: name}, nil
}

// Commit commits the work so far and reopens the block at the same depth
func (b *Block) Commit(ctx context.Context) error {
	if b.closed || b.flat {
		return nil
	}
	if b.savepoint == "" {
		if err := b.s.control(ctx, "COMMIT"); err != nil {
			return err
		}
		return b.s.control(ctx, "BEGIN")
	}
	if err := b.s.control(ctx, "RELEASE SAVEPOINT "+b.savepoint); err != nil {
		return err
	}
	return b.s.control(ctx, "SAVEPOINT "+b.savepoint)
}

// Rollback discards the work so far; the block stays open
func (b *Block) Rollback(ctx context.Context) error {
	if b.closed || b.flat {
		return nil
	}
	if b.savepoint == "" {
		if err := b.s.control(ctx, "ROLLBACK"); err != nil {
			return err
		}
		return b.s.control(ctx, "BEGIN")
	}
	return b.s.control(ctx, "ROLLBACK TO SAVEPOINT "+b.savepoint)
}

// End closes the block: it commits when err is nil and rolls back
// otherwise, then returns err (or the commit failure). Ending twice is a
// no-op.
func (b *Block) End(ctx context.Context, err error) error {
	if b.closed {
		return err
	}
	b.closed = true
	if b.flat {
		return err
	}
	b.s.frames = b.s.frames[:len(b.s.frames)-1]

	if b.savepoint == "" {
		if err != nil {
			if rbErr := b.s.control(ctx, "ROLLBACK"); rbErr != nil {
				return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
			}
			return err
		}
		return b.s.control(ctx, "COMMIT")
	}

	if err != nil {
		if rbErr := b.s.control(ctx, "ROLLBACK TO SAVEPOINT "+b.savepoint); rbErr != nil {
			return fmt.Errorf("savepoint error: %v, rollback error: %w", err, rbErr)
		}
		// Release after rolling back so the name is retired either way.
		_ = b.s.control(ctx, "RELEASE SAVEPOINT "+b.savepoint)
		return err
	}
	return b.s.control(ctx, "RELEASE SAVEPOINT "+b.savepoint)
}

// Atomic runs fn inside a transaction block: a real transaction at the
// outermost level, a savepoint when nested. fn's error rolls the block
// back and is returned; a panic rolls back and re-panics.
func (s *Session) Atomic(ctx context.Context, fn func(*Session) error) error {
	block, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = block.End(ctx, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()
	return block.End(ctx, fn(s))
}
