package repository

import (
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

type RedisHealth struct {
	db redis.UniversalClient
}

func NewRedisHealth(db redis.UniversalClient) *RedisHealth {
	return &RedisHealth{db: db}
}

func (r *RedisHealth) Check() error {
	if _, err := r.db.Ping().Result(); err != nil {
		return errors.Wrap(err, "redis is not reachable")
	}
	return nil
}
