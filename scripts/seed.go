// Seed script for creating a demo state file for Credence.
// Run with: go run ./scripts/seed.go
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/Harshitk-cp/credence/internal/canon"
	"github.com/Harshitk-cp/credence/internal/domain"
	"github.com/Harshitk-cp/credence/internal/store"
)

func main() {
	// Load environment
	envFile := os.Getenv("CREDENCE_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	statePath := os.Getenv("CREDENCE_STATE")
	if statePath == "" {
		statePath = "data/credence.ndjson"
	}

	if _, err := os.Lstat(statePath); err == nil {
		log.Fatalf("State file already exists at %s - refusing to overwrite", statePath)
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0o755); err != nil {
		log.Fatalf("Failed to create state directory: %v", err)
	}

	fragments := []string{
		// Providers: the highest-certainty one answers, the others vote.
		`<provider name="primary" certainty="0.9" endpoint="https://api.openai.com/v1" model="gpt-4o-mini" key="env:OPENAI_API_KEY"/>`,
		`<provider name="scout" certainty="0.6" endpoint="https://api.cerebras.ai/v1" model="llama-3.3-70b" key="env:CEREBRAS_API_KEY" prelim="true" timeout="20"/>`,

		// Knowledge the providers get grounded on.
		`<fact certainty="0.95" title="Owner profile" source="onboarding">The owner is a backend engineer who works mostly in Go.</fact>`,
		`<fact certainty="0.9" title="Answer style" source="onboarding">Answers should be concise and skip pleasantries.</fact>`,
		`<fact certainty="0.85" title="Tooling constraint" source="conversation">Only open source tools may be recommended.</fact>`,
		`<fact certainty="-0.7" title="Legacy importer" source="conversation">The legacy CSV importer is still in production use.</fact>`,
		`<reference certainty="0.8" title="Team handbook" href="https://example.com/handbook">Engineering handbook with the deploy checklist.</reference>`,
	}

	trust := make([]domain.TrustEntry, 0, len(fragments)+2)
	for _, raw := range fragments {
		entry, err := canon.Canonicalize(raw, canon.Options{Strict: true})
		if err != nil {
			log.Fatalf("Failed to canonicalize seed fragment: %v", err)
		}
		trust = append(trust, *entry)
		fmt.Printf("Created %-9s %s\n", entry.Kind, entry.ID)
	}

	// Conjunction over the style and tooling facts, so derivation has an
	// operator to chew on.
	and := fmt.Sprintf(`<and certainty="0"><ref id="%s"/><ref id="%s"/></and>`,
		trust[3].ID, trust[4].ID)
	entry, err := canon.Canonicalize(and, canon.Options{Strict: true})
	if err != nil {
		log.Fatalf("Failed to canonicalize operator: %v", err)
	}
	trust = append(trust, *entry)
	fmt.Printf("Created %-9s %s\n", entry.Kind, entry.ID)

	if err := store.SaveState(statePath, trust, nil); err != nil {
		log.Fatalf("Failed to write state file: %v", err)
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Printf("\nWrote %d entries to %s\n", len(trust), statePath)
	fmt.Println("\nStart the server and try:")
	fmt.Println("curl http://localhost:8080/v1/trust")
	fmt.Println(`curl -X POST http://localhost:8080/v1/chat -d '{"message":"What tools should I use for profiling?"}'`)
}
