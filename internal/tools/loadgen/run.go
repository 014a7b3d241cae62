package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int64
	Failures      int64
	Status2xx     int64
	Status4xx     int64
	Status429     int64
	Status5xx     int64
}

// request is one generated call; body is sent as JSON when non-empty.
type request struct {
	method string
	path   string
	body   string
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 15
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	gen, err := generatorForProfile(cfg.Profile, cfg.Seed)
	if err != nil {
		return Result{}, err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var total, failures, s2xx, s4xx, s429, s5xx atomic.Int64
	jobs := make(chan request, cfg.Concurrency*2)
	g, gctx := errgroup.WithContext(ctx)
	for range cfg.Concurrency {
		g.Go(func() error {
			for job := range jobs {
				body := bytes.NewReader([]byte(job.body))
				req, err := http.NewRequestWithContext(gctx, job.method, strings.TrimRight(cfg.BaseURL, "/")+job.path, body)
				if err != nil {
					failures.Add(1)
					continue
				}
				if job.body != "" {
					req.Header.Set("Content-Type", "application/json")
				}
				resp, err := client.Do(req)
				if err != nil {
					failures.Add(1)
					continue
				}
				_ = resp.Body.Close()
				total.Add(1)
				switch {
				case resp.StatusCode >= 200 && resp.StatusCode < 300:
					s2xx.Add(1)
				case resp.StatusCode == http.StatusTooManyRequests:
					s429.Add(1)
				case resp.StatusCode >= 400 && resp.StatusCode < 500:
					s4xx.Add(1)
				case resp.StatusCode >= 500:
					s5xx.Add(1)
				}
			}
			return nil
		})
	}

	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			select {
			case jobs <- gen():
			case <-ctx.Done():
				break loop
			}
		}
	}
	close(jobs)
	_ = g.Wait()
	return Result{
		TotalRequests: total.Load(),
		Failures:      failures.Load(),
		Status2xx:     s2xx.Load(),
		Status4xx:     s4xx.Load(),
		Status429:     s429.Load(),
		Status5xx:     s5xx.Load(),
	}, nil
}

// generatorForProfile returns a deterministic request source for a profile.
func generatorForProfile(profile string, seed int64) (func() request, error) {
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1))
	var templates []func(*rand.Rand) request
	switch strings.ToLower(profile) {
	case "", "mixed":
		templates = []func(*rand.Rand) request{registerRequest, wrongPasswordLogin, healthRequest, anonymousMe}
	case "auth":
		templates = []func(*rand.Rand) request{registerRequest, wrongPasswordLogin}
	case "error-heavy":
		templates = []func(*rand.Rand) request{wrongPasswordLogin, badOAuthCallback, anonymousMe}
	default:
		return nil, fmt.Errorf("unknown profile: %s", profile)
	}
	i := 0
	return func() request {
		r := templates[i%len(templates)](rng)
		i++
		return r
	}, nil
}

func registerRequest(rng *rand.Rand) request {
	n := rng.Uint32()
	return request{
		method: http.MethodPost,
		path:   "/api/v1/auth/register",
		body:   fmt.Sprintf(`{"email":"load-%08x@example.test","password":"Load#Pass1","username":"load%08x"}`, n, n),
	}
}

func wrongPasswordLogin(rng *rand.Rand) request {
	return request{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   fmt.Sprintf(`{"email":"load-%08x@example.test","password":"Wrong#Pass1"}`, rng.Uint32()),
	}
}

func healthRequest(*rand.Rand) request {
	return request{method: http.MethodGet, path: "/health/ready"}
}

func anonymousMe(*rand.Rand) request {
	return request{method: http.MethodGet, path: "/api/v1/me"}
}

func badOAuthCallback(*rand.Rand) request {
	return request{method: http.MethodGet, path: "/api/v1/auth/oauth/google/callback?state=bad&code=x"}
}
