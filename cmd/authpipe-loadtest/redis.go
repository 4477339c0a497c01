package main

import "github.com/redis/go-redis/v9"

func redisClient(addr string) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{addr},
	})
}
