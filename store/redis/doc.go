// Package redis adds Redis-backed side channels to a job store: a
// cancellation signal cache that answers abort checks without touching
// the primary database, and a progress event stream encoded with
// msgpack that dashboards can tail.
//
// Usage:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	jobsStore := redis.NewCancelCache(client, pgStore)
//	stream := redis.NewProgressStream(client)
//	extensions.Register(stream)
package redis
