package scyllasink

// CQL statements, grouped here so the column order matches the schema
// described in spec §6.1 exactly (prepared-statement binding is positional).

const queryGetProducerInfo = `
	SELECT producer_id, num_shards
	FROM producer_info
	WHERE producer_id = ?
`

const queryTryAcquireProducerLock = `
	INSERT INTO producer_lock (producer_id, lock_id, ifname, ipv4, created_at)
	VALUES (?, ?, ?, ?, currentTimestamp())
	IF NOT EXISTS
`

const queryDropProducerLock = `
	DELETE FROM producer_lock
	WHERE producer_id = ?
	IF lock_id = ?
`

const queryInsertProducerSlotSeen = `
	INSERT INTO producer_slot_seen (producer_id, slot, created_at)
	VALUES (?, ?, currentTimestamp())
`

const queryLastCommittedPeriodPerShard = `
	SELECT shard_id, period
	FROM producer_period_commit_log
	WHERE producer_id = ? AND shard_id IN ?
	ORDER BY period DESC
	PER PARTITION LIMIT 1
`

const queryMaxOffsetForShardPeriod = `
	SELECT offset
	FROM log
	WHERE producer_id = ? AND shard_id = ? AND period = ?
	ORDER BY offset DESC
	PER PARTITION LIMIT 1
`

const queryCommitShardPeriod = `
	INSERT INTO producer_period_commit_log (producer_id, shard_id, period, created_at)
	VALUES (?, ?, ?, currentTimestamp())
`

const queryInsertBlockchainEvent = `
	INSERT INTO log (
		shard_id, period, producer_id, offset, slot, event_type,
		pubkey, lamports, owner, executable, rent_epoch, write_version, data,
		txn_signature, signature, signatures,
		num_readonly_signed_accounts, num_readonly_unsigned_accounts, num_required_signatures,
		account_keys, recent_blockhash, instructions, versioned, address_table_lookups, meta,
		is_vote, tx_index, created_at
	) VALUES (
		?, ?, ?, ?, ?, ?,
		?, ?, ?, ?, ?, ?, ?,
		?, ?, ?,
		?, ?, ?,
		?, ?, ?, ?, ?, ?,
		?, ?, currentTimestamp()
	)
`
