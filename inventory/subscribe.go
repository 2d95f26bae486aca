package inventory

import (
	"context"
	"fmt"
)

// Subscribe listens for row-level changes on table via Postgres
// LISTEN/NOTIFY (the schema's triggers publish one notification per
// row change) and invokes h for each event until ctx is cancelled.
// The purchase pipeline never subscribes; this feeds UI collaborators
// that refresh their provider list on change.
func (s *PostgresStore) Subscribe(ctx context.Context, table string, h Handler) error {
	if table != TableProviders && table != TableAllocations {
		return fmt.Errorf("unknown table %q", table)
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}

	channel := table + "_changes"
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		conn.Release()
		return fmt.Errorf("listen %s: %w", channel, err)
	}

	go func() {
		defer conn.Release()
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				// ctx cancelled or connection lost; either way the
				// subscription is over.
				return
			}
			h(ChangeEvent{
				Table:   table,
				Action:  "change",
				Payload: []byte(n.Payload),
			})
		}
	}()
	return nil
}
