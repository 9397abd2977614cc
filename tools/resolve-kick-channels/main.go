// Command resolve-kick-channels resolves Kick channel slugs to chatroom
// IDs, producing a config snippet that skips the runtime API lookup.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pacdouglas/live-xumbrega/internal/kick"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: resolve-kick-channels <channel1> [channel2] ...")
		fmt.Println("\nExample:")
		fmt.Println("  resolve-kick-channels xumbr3ga")
		os.Exit(1)
	}

	channels := os.Args[1:]
	fmt.Printf("Resolving %d Kick channel(s)...\n\n", len(channels))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := make(map[string]int)
	errors := make(map[string]string)

	for _, slug := range channels {
		channel, err := kick.FetchChannel(ctx, nil, "", slug)
		if err != nil {
			errors[slug] = err.Error()
			continue
		}
		if channel.Chatroom.ID == 0 {
			errors[slug] = "no chatroom id in response"
			continue
		}
		results[slug] = channel.Chatroom.ID
	}

	// Print results
	if len(results) > 0 {
		fmt.Println("✓ Successfully resolved:")
		fmt.Println("---")
		for slug, id := range results {
			fmt.Printf("%s: %d\n", slug, id)
		}
		fmt.Println()
	}

	if len(errors) > 0 {
		fmt.Println("✗ Failed to resolve:")
		fmt.Println("---")
		for slug, err := range errors {
			fmt.Printf("%s: %s\n", slug, err)
		}
		fmt.Println()
	}

	// Print YAML config snippet
	if len(results) > 0 {
		fmt.Println("Add this to your config.yaml:")
		fmt.Println("---")
		fmt.Println("kick:")
		for slug, id := range results {
			fmt.Printf("  channel: %s\n", slug)
			fmt.Printf("  chatroom_id: %d\n", id)
		}
	}
}
