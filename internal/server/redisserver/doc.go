// Package redisserver serves the store over the Redis RESP2 protocol.
//
// Supported commands:
//   - PING, ECHO, QUIT, SELECT 0, COMMAND
//   - AUTH (when a password is configured)
//   - GET, MGET, SET [EX|PX] [NX|XX], SETNX, SETEX
//   - DEL, EXISTS, EXPIRE, PEXPIRE, PERSIST, TTL, PTTL
//   - DBSIZE, INFO [section]
//
// Multi-key commands run one store command per key; they are not atomic
// across keys.
package redisserver
