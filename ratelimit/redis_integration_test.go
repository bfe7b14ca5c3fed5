package ratelimit

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisLogCountsWindows(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}
	name, port := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(name) })

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("127.0.0.1:%s", port)})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()
	log := NewRedisLog(client)

	now := time.Now().UTC()
	for _, at := range []time.Time{now.Add(-26 * time.Hour), now.Add(-3 * time.Hour), now.Add(-30 * time.Second), now} {
		if err := log.Record(ctx, Entry{ClientId: "c1", At: at}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	minute, err := log.Count(ctx, "c1", now.Add(-time.Minute))
	if err != nil || minute != 2 {
		t.Fatalf("minute count = %d, %v", minute, err)
	}
	all, err := client.ZCard(ctx, redisKey("c1")).Result()
	if err != nil || all != 3 {
		t.Fatalf("entries older than retention should be trimmed, have %d (%v)", all, err)
	}

	l := NewLimiter(log)
	l.now = func() time.Time { return now }
	res, err := l.Check(ctx, "c1", "free")
	if err != nil || !res.Allowed || res.Current.Minute != 2 {
		t.Fatalf("check = %+v, %v", res, err)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("integration-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
