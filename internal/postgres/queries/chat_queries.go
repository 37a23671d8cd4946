package queries

// chatColumns and lastMessageJoin are shared by every header read:
// the last message is the row whose seq equals the chat's message_count.
const (
	chatColumns = `
		c.id::text, c.seller_id, c.buyer_id, c.listing_id, c.is_system_message, c.message_count, c.created_at, c.updated_at,
		m.id::text, m.seq, m.sender_id, m.content, m.sent_at, m.client_msg_id`
	lastMessageJoin = `
		LEFT JOIN chat_messages m ON m.chat_id = c.id AND m.seq = c.message_count`
)

const (
	QueryUpsertChat = `
		INSERT INTO chats (id, seller_id, buyer_id, listing_id, is_system_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (seller_id, buyer_id, listing_id) DO UPDATE SET seller_id = EXCLUDED.seller_id
		RETURNING id::text, (xmax = 0) AS inserted;
	`
	QueryGetChat = `
		SELECT` + chatColumns + `
		FROM chats c` + lastMessageJoin + `
		WHERE c.id = $1;
	`
	QueryListChatsForUser = `
		SELECT` + chatColumns + `
		FROM chats c` + lastMessageJoin + `
		WHERE c.seller_id = $1 OR c.buyer_id = $1
		ORDER BY c.updated_at DESC, c.id;
	`
	QueryLockChat = `
		SELECT id::text, seller_id, buyer_id, listing_id, is_system_message, message_count, created_at, updated_at
		FROM chats
		WHERE id = $1
		FOR UPDATE;
	`
	QueryExistsChat   = `SELECT 1 FROM chats WHERE id = $1;`
	QueryMessageByKey = `
		SELECT id::text, seq, sender_id, content, sent_at, client_msg_id
		FROM chat_messages
		WHERE chat_id = $1 AND sender_id = $2 AND client_msg_id = $3;
	`
	QueryInsertMessage = `
		INSERT INTO chat_messages (chat_id, seq, id, sender_id, content, sent_at, client_msg_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	QueryBumpChat = `
		UPDATE chats
		SET message_count = $2, updated_at = $3
		WHERE id = $1;
	`
	// LIMIT NULL is LIMIT ALL.
	QueryMessagesAfter = `
		SELECT id::text, seq, sender_id, content, sent_at, client_msg_id
		FROM chat_messages
		WHERE chat_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3;
	`
)
