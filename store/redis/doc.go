// Package redis implements store.Store on Redis with go-redis/v9.
//
// Each job is a Hash holding its state and its JSON record. Events live in
// a Sorted Set scored by sequence number, and a counter key assigns the
// numbers. Creation and compare-and-transition run as Lua scripts, so the
// state check, the write and the event append are one atomic step.
//
// The caller owns the Redis client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
