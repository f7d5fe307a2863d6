package redis

import goredis "github.com/redis/go-redis/v9"

// Job hashes are addressed by prefix+id inside the scripts, so this store
// targets a single Redis node (or one hash slot), not a sharded cluster.

// leaseLost is returned by fenced scripts when the caller no longer holds
// the job.
const leaseLost = -1

// enqueueScript writes a batch of job hashes and waiting entries, refusing
// the whole batch if any id already exists. Returns 0, or the 1-based index
// of the first job whose id is taken.
// KEYS: waiting. ARGV: job prefix, field count F, F field names, then per
// job: id, rank, F values.
var enqueueScript = goredis.NewScript(`
local nf = tonumber(ARGV[2])
local first = 3 + nf
local stride = nf + 2
local n = 0
for i = first, #ARGV, stride do
	n = n + 1
	if redis.call('EXISTS', ARGV[1] .. ARGV[i]) == 1 then
		return n
	end
end
for i = first, #ARGV, stride do
	local fields = {}
	for f = 1, nf do
		fields[#fields + 1] = ARGV[2 + f]
		fields[#fields + 1] = ARGV[i + 1 + f]
	end
	redis.call('HSET', ARGV[1] .. ARGV[i], unpack(fields))
	redis.call('ZADD', KEYS[1], ARGV[i + 1], ARGV[i])
end
return 0
`)

// dequeueScript promotes due delayed jobs, then claims the lowest-ranked
// waiting job.
// KEYS: waiting, delayed, active. ARGV: now_ms, lease_ms, worker, job prefix.
var dequeueScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[2], id)
	local rank = redis.call('HGET', ARGV[4] .. id, 'rank')
	if rank then
		redis.call('ZADD', KEYS[1], rank, id)
		redis.call('HSET', ARGV[4] .. id, 'state', 'waiting')
	end
end
local ids = redis.call('ZRANGE', KEYS[1], 0, 0)
if #ids == 0 then
	return false
end
local id = ids[1]
local key = ARGV[4] .. id
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[3], ARGV[2], id)
redis.call('HSET', key, 'state', 'active', 'worker_id', ARGV[3],
	'lease_expires_at', ARGV[2], 'updated_at', ARGV[1])
return redis.call('HGETALL', key)
`)

// finishScript moves an active job to completed or failed.
// KEYS: active, target zset. ARGV: job prefix, id, worker, now_ms, state,
// message_id, last_error.
var finishScript = goredis.NewScript(`
local key = ARGV[1] .. ARGV[2]
if redis.call('HGET', key, 'state') ~= 'active' or redis.call('HGET', key, 'worker_id') ~= ARGV[3] then
	return -1
end
redis.call('ZREM', KEYS[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
redis.call('HINCRBY', key, 'attempt_count', 1)
redis.call('HSET', key, 'state', ARGV[5], 'message_id', ARGV[6], 'last_error', ARGV[7],
	'worker_id', '', 'lease_expires_at', '', 'finished_at', ARGV[4], 'updated_at', ARGV[4])
return 1
`)

// retryScript counts a failed attempt and reschedules or fails the job.
// KEYS: active, waiting, delayed, failed. ARGV: job prefix, id, worker,
// now_ms, last_error, run_at_ms, delayed flag.
var retryScript = goredis.NewScript(`
local id = ARGV[2]
local key = ARGV[1] .. id
if redis.call('HGET', key, 'state') ~= 'active' or redis.call('HGET', key, 'worker_id') ~= ARGV[3] then
	return -1
end
redis.call('ZREM', KEYS[1], id)
local attempts = redis.call('HINCRBY', key, 'attempt_count', 1)
local max = tonumber(redis.call('HGET', key, 'max_attempts'))
redis.call('HSET', key, 'last_error', ARGV[5], 'worker_id', '', 'lease_expires_at', '', 'updated_at', ARGV[4])
if attempts >= max then
	redis.call('ZADD', KEYS[4], ARGV[4], id)
	redis.call('HSET', key, 'state', 'failed', 'finished_at', ARGV[4])
elseif ARGV[7] == '1' then
	redis.call('ZADD', KEYS[3], ARGV[6], id)
	redis.call('HSET', key, 'state', 'delayed', 'run_at', ARGV[6])
else
	redis.call('ZADD', KEYS[2], redis.call('HGET', key, 'rank'), id)
	redis.call('HSET', key, 'state', 'waiting', 'run_at', ARGV[4])
end
return redis.call('HGETALL', key)
`)

// extendScript pushes the lease of an active job forward.
// KEYS: active. ARGV: job prefix, id, worker, now_ms, lease_ms.
var extendScript = goredis.NewScript(`
local key = ARGV[1] .. ARGV[2]
if redis.call('HGET', key, 'state') ~= 'active' or redis.call('HGET', key, 'worker_id') ~= ARGV[3] then
	return -1
end
redis.call('ZADD', KEYS[1], ARGV[5], ARGV[2])
redis.call('HSET', key, 'lease_expires_at', ARGV[5], 'updated_at', ARGV[4])
return 1
`)

// reclaimScript returns expired leases to waiting or fails them.
// KEYS: active, waiting, failed. ARGV: job prefix, now_ms, last_error.
var reclaimScript = goredis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local out = {}
for _, id in ipairs(ids) do
	local key = ARGV[1] .. id
	redis.call('ZREM', KEYS[1], id)
	if redis.call('EXISTS', key) == 1 then
		local attempts = redis.call('HINCRBY', key, 'attempt_count', 1)
		local max = tonumber(redis.call('HGET', key, 'max_attempts'))
		redis.call('HSET', key, 'last_error', ARGV[3], 'worker_id', '', 'lease_expires_at', '',
			'updated_at', ARGV[2], 'run_at', ARGV[2])
		if attempts >= max then
			redis.call('ZADD', KEYS[3], ARGV[2], id)
			redis.call('HSET', key, 'state', 'failed', 'finished_at', ARGV[2])
		else
			redis.call('ZADD', KEYS[2], redis.call('HGET', key, 'rank'), id)
			redis.call('HSET', key, 'state', 'waiting')
		end
		table.insert(out, redis.call('HGETALL', key))
	end
end
return out
`)

// clearScript deletes every job in the given zsets along with the zsets.
// KEYS: waiting, delayed, completed, failed. ARGV: job prefix.
var clearScript = goredis.NewScript(`
local n = 0
for i = 1, #KEYS do
	local ids = redis.call('ZRANGE', KEYS[i], 0, -1)
	for _, id in ipairs(ids) do
		redis.call('DEL', ARGV[1] .. id)
		n = n + 1
	end
	redis.call('DEL', KEYS[i])
end
return n
`)

// evictScript deletes terminal jobs finished strictly before the cutoff.
// KEYS: completed, failed. ARGV: job prefix, cutoff_ms.
var evictScript = goredis.NewScript(`
local n = 0
for i = 1, #KEYS do
	local ids = redis.call('ZRANGEBYSCORE', KEYS[i], '-inf', '(' .. ARGV[2])
	for _, id in ipairs(ids) do
		redis.call('DEL', ARGV[1] .. id)
		redis.call('ZREM', KEYS[i], id)
		n = n + 1
	end
end
return n
`)
