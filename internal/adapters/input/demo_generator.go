package input

import (
	"context"
	"io"
	"math/rand"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/ports"
)

// DemoGenerator produces synthetic sshd lines for running the live pipeline
// without a real auth log.
type DemoGenerator struct {
	rate          int
	attackPercent int
	hostname      string
	generated     atomic.Uint64

	normalIPs   []netip.Addr
	attackerIPs []netip.Addr
	users       []string
	probeUsers  []string
}

type DemoConfig struct {
	Rate          int
	AttackPercent int
	Hostname      string
}

func DefaultDemoConfig() DemoConfig {
	return DemoConfig{
		Rate:          5,
		AttackPercent: 70,
		Hostname:      "bastion",
	}
}

func NewDemoGenerator(config DemoConfig) *DemoGenerator {
	if config.Rate <= 0 {
		config.Rate = 5
	}
	if config.AttackPercent < 0 || config.AttackPercent > 100 {
		config.AttackPercent = 70
	}
	if config.Hostname == "" {
		config.Hostname = "bastion"
	}

	return &DemoGenerator{
		rate:          config.Rate,
		attackPercent: config.AttackPercent,
		hostname:      config.Hostname,
		normalIPs: generateIPPool(64, []string{
			"203.0.113.", "198.51.100.", "192.168.1.", "10.0.0.",
		}),
		attackerIPs: generateIPPool(256, []string{
			"45.155.204.", "185.220.101.", "89.248.165.", "61.177.172.",
			"218.92.0.", "141.98.11.", "193.32.162.", "2.57.122.",
		}),
		users:      []string{"deploy", "alice", "bob", "ops", "git"},
		probeUsers: []string{"root", "admin", "test", "oracle", "ubuntu", "postgres", "pi", "user", "ftpuser", "guest"},
	}
}

func (g *DemoGenerator) Describe() string {
	return "demo (" + strconv.Itoa(g.rate) + " lines/s)"
}

func (g *DemoGenerator) Generated() uint64 {
	return g.generated.Load()
}

func (g *DemoGenerator) Open(ctx context.Context) (ports.LineStream, error) {
	interval := time.Second / time.Duration(g.rate)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	log.Info().Int("rate", g.rate).Msg("Demo generator started")

	return &demoStream{
		ctx:    ctx,
		gen:    g,
		ticker: time.NewTicker(interval),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		done:   make(chan struct{}),
		pid:    1000 + rand.Intn(50000),
	}, nil
}

type demoStream struct {
	ctx    context.Context
	gen    *DemoGenerator
	ticker *time.Ticker
	rng    *rand.Rand
	done   chan struct{}
	once   sync.Once
	pid    int
}

func (s *demoStream) ReadLine() (string, error) {
	select {
	case <-s.ctx.Done():
		return "", io.EOF
	case <-s.done:
		return "", io.EOF
	case now := <-s.ticker.C:
		s.pid++
		s.gen.generated.Add(1)
		return s.gen.line(s.rng, now, s.pid), nil
	}
}

func (s *demoStream) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
		log.Info().Uint64("total_generated", s.gen.Generated()).Msg("Demo generator stopped")
	})
	return nil
}

func (g *DemoGenerator) line(rng *rand.Rand, now time.Time, pid int) string {
	var b strings.Builder
	b.Grow(128)
	b.WriteString(now.Format(time.Stamp))
	b.WriteByte(' ')
	b.WriteString(g.hostname)
	b.WriteString(" sshd[")
	b.WriteString(strconv.Itoa(pid))
	b.WriteString("]: ")

	port := strconv.Itoa(1024 + rng.Intn(64000))

	if rng.Intn(100) >= g.attackPercent {
		ip := g.normalIPs[rng.Intn(len(g.normalIPs))].String()
		user := g.users[rng.Intn(len(g.users))]
		switch rng.Intn(3) {
		case 0:
			b.WriteString("Accepted publickey for " + user + " from " + ip + " port " + port + " ssh2")
		case 1:
			b.WriteString("Accepted password for " + user + " from " + ip + " port " + port + " ssh2")
		default:
			b.WriteString("Disconnected from user " + user + " " + ip + " port " + port)
		}
		return b.String()
	}

	ip := g.attackerIPs[rng.Intn(len(g.attackerIPs))].String()
	user := g.probeUsers[rng.Intn(len(g.probeUsers))]
	switch n := rng.Intn(10); {
	case n < 5:
		b.WriteString("Failed password for " + user + " from " + ip + " port " + port + " ssh2")
	case n < 7:
		b.WriteString("Invalid user " + user + " from " + ip + " port " + port)
	case n < 8:
		b.WriteString("Connection closed by authenticating user " + user + " " + ip + " port " + port + " [preauth]")
	case n < 9:
		b.WriteString("Disconnected from invalid user " + user + " " + ip + " port " + port + " [preauth]")
	default:
		b.WriteString("POSSIBLE BREAK-IN ATTEMPT from " + ip + " port " + port + " ssh2")
	}
	return b.String()
}

func generateIPPool(count int, prefixes []string) []netip.Addr {
	ips := make([]netip.Addr, 0, count)
	perPrefix := count / len(prefixes)
	for _, prefix := range prefixes {
		for j := 1; j <= perPrefix && j < 255; j++ {
			if addr, err := netip.ParseAddr(prefix + strconv.Itoa(j)); err == nil {
				ips = append(ips, addr)
			}
		}
	}
	return ips
}
