// Package redisq provides the redis-backed durable priority queue and the
// short-TTL read caches. Queue and cache failures are transient-infra
// errors: callers on the mutation path log and continue rather than
// propagating them.
package redisq
