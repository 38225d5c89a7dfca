package proxypool

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grishkovelli/phonewatch/internal/endpoint"
)

const staleAfter = time.Hour

func persistPath(proto Protocol) string {
	if proto == SOCKS5 {
		return "./socks5_proxy_servers.txt"
	}
	return "./http_proxy_servers.txt"
}

// loadPersisted loads endpoints from the on-disk cache for proto,
// skipping (and deleting) the file when it is stale.
func loadPersisted(proto Protocol) []*endpoint.Endpoint {
	path := persistPath(proto)

	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if time.Since(info.ModTime()) > staleAfter {
		_ = os.Remove(path)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var out []*endpoint.Endpoint
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		hostPort := strings.SplitN(fields[0], ":", 2)
		if len(hostPort) != 2 {
			continue
		}
		port, err := strconv.Atoi(hostPort[1])
		if err != nil {
			continue
		}
		var creds *endpoint.Credentials
		if len(fields) >= 3 {
			creds = &endpoint.Credentials{User: fields[1], Pass: fields[2]}
		}
		out = append(out, endpoint.New(hostPort[0], port, creds))
	}
	return out
}

// persist appends newly-fetched endpoints to the on-disk cache, deduplicating
// against what is already there.
func persist(proto Protocol, added []*endpoint.Endpoint) {
	path := persistPath(proto)

	existing := map[string]bool{}
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			existing[strings.TrimSpace(scanner.Text())] = true
		}
		f.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	for _, e := range added {
		user, pass := "", ""
		if e.Creds != nil {
			user, pass = e.Creds.User, e.Creds.Pass
		}
		line := strings.TrimSpace(fmt.Sprintf("%s %s %s", e.Addr(), user, pass))
		if existing[line] {
			continue
		}
		existing[line] = true
		fmt.Fprintln(w, line)
	}
}
