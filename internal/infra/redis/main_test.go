//go:build integration

package redis

import (
	"context"
	"fmt"
	"log"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
)

var testClient *Client

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("Could not construct pool: %s", err)
	}
	pool.MaxWait = 60 * time.Second
	if err := pool.Client.Ping(); err != nil {
		log.Fatalf("Could not connect to Docker: %s", err)
	}

	res, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("Could not start redis container: %s", err)
	}

	addr := fmt.Sprintf("localhost:%s", res.GetPort("6379/tcp"))
	if err := pool.Retry(func() error {
		c := redis.NewClient(&redis.Options{Addr: addr})
		if err := c.Ping(context.Background()).Err(); err != nil {
			_ = c.Close()
			return err
		}
		testClient = NewFromRaw(c)
		return nil
	}); err != nil {
		_ = pool.Purge(res)
		log.Fatalf("Unable to connect to redis: %v", err)
	}

	exitCode := m.Run()

	_ = testClient.Close()
	if err := pool.Purge(res); err != nil {
		log.Printf("could not purge redis container: %v", err)
	}
	os.Exit(exitCode)
}
