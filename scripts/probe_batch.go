package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/uptimewatch/uptimewatch/internal/model"
	"github.com/uptimewatch/uptimewatch/internal/service/probe"
)

// Probes a batch of URLs the way the scheduler does and prints how the
// results would be recorded. URLs come from the command line, or a default
// set covering each failure category.
func main() {
	targets := os.Args[1:]
	if len(targets) == 0 {
		targets = []string{
			"https://example.com",
			"https://httpbin.org/status/503",
			"https://httpbin.org/redirect/1",
			"https://expired.badssl.com",
			"https://self-signed.badssl.com",
			"https://no-such-host.invalid",
			"http://127.0.0.1:1",
			"https://10.255.255.1",
		}
	}

	executor := probe.New(nil, 10*time.Second)
	ctx := context.Background()

	byReason := make(map[string][]string)
	up := 0

	for i, url := range targets {
		res := executor.Probe(ctx, url)
		if res.Status == model.StatusUp {
			up++
			fmt.Printf("✓ %s: %d in %s\n", url, res.StatusCode, res.Elapsed.Round(time.Millisecond))
		} else {
			byReason[res.Reason] = append(byReason[res.Reason], url)
			fmt.Printf("✗ %s: %s\n", url, res.Reason)
		}

		if (i+1)%25 == 0 {
			fmt.Printf("Probed %d/%d targets...\n", i+1, len(targets))
		}
	}

	fmt.Printf("\n=== RESULTS ===\n")
	fmt.Printf("UP: %d\n", up)
	fmt.Printf("DOWN: %d\n\n", len(targets)-up)

	reasons := make([]string, 0, len(byReason))
	for reason := range byReason {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	for _, reason := range reasons {
		urls := byReason[reason]
		fmt.Printf("%s: %d\n", strings.ToUpper(reason), len(urls))
		// Show first 5 URLs as examples
		for i, url := range urls {
			if i >= 5 {
				fmt.Printf("  ... and %d more\n", len(urls)-5)
				break
			}
			fmt.Printf("  - %s\n", url)
		}
		fmt.Println()
	}
}
