package queries

const (
	QueryInsertBlock = `
		INSERT INTO user_blocks (blocker_id, blocked_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING;
	`
	QueryDeleteBlock  = `DELETE FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2;`
	QueryExistsEither = `
		SELECT EXISTS (
			SELECT 1 FROM user_blocks
			WHERE (blocker_id = $1 AND blocked_id = $2)
			   OR (blocker_id = $2 AND blocked_id = $1)
		);
	`
	QueryListByBlocker = `
		SELECT blocker_id, blocked_id, created_at
		FROM user_blocks
		WHERE blocker_id = $1
		ORDER BY created_at DESC, blocked_id;
	`
)
