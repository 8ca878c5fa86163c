package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_completed_event_once",
			SQL: `SELECT payload->>'document_id', COUNT(*) FROM outbox
                  WHERE topic = 'document.completed'
                  GROUP BY payload->>'document_id' HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_completed_before_all_portions",
			SQL: `SELECT d.id, jsonb_array_length(d.recipients) AS roster,
                         (SELECT COUNT(*) FROM completion_records r
                           WHERE r.document_id = d.id AND r.status = 'completed') AS done
                  FROM documents d
                  WHERE d.status = 'completed'
                    AND (SELECT COUNT(*) FROM completion_records r
                          WHERE r.document_id = d.id AND r.status = 'completed') < jsonb_array_length(d.recipients)`,
		},
		{
			Name: "O3_completion_event_mismatch",
			SQL: `SELECT d.id::text AS any FROM documents d
                  WHERE d.status = 'completed'
                    AND NOT EXISTS (SELECT 1 FROM outbox o
                                    WHERE o.topic = 'document.completed' AND o.payload->>'document_id' = d.id::text)
                  UNION ALL
                  SELECT o.payload->>'document_id' FROM outbox o
                  WHERE o.topic = 'document.completed'
                    AND NOT EXISTS (SELECT 1 FROM documents d
                                    WHERE d.id::text = o.payload->>'document_id' AND d.status = 'completed')`,
		},
		{
			Name: "O4_completed_portion_without_capture",
			SQL: `SELECT id, document_id FROM completion_records
                  WHERE status = 'completed' AND (capture_key = '' OR completed_at IS NULL)`,
		},
		{
			Name: "O5_portion_on_draft",
			SQL: `SELECT r.id, r.document_id FROM completion_records r
                  JOIN documents d ON d.id = r.document_id
                  WHERE d.status = 'draft'`,
		},
		{
			Name: "O6_stale_outbox",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed','dead')
                    AND now()-created_at > interval '5 minutes'`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
