package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"

	"github.com/vnmchuo/agent-metering/internal/identity"
	"github.com/vnmchuo/agent-metering/internal/pricing"
)

const (
	TestAPIKey     = "test-api-key-12345"
	TestBusinessID = "00000000-0000-0000-0000-000000000001"
	TestAgentID    = "support-agent"
)

func SeedTestAPIKey(ctx context.Context, store identity.Store) {
	h := sha256.New()
	h.Write([]byte(TestAPIKey))
	keyHash := hex.EncodeToString(h.Sum(nil))

	apiKey := &identity.APIKey{
		BusinessID: TestBusinessID,
		KeyHash:    keyHash,
		RateLimit:  600,
		Active:     true,
	}

	err := store.Create(ctx, apiKey)
	if err != nil {
		log.Printf("[Seeder] API key may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Test API key created successfully")
	log.Printf("[Seeder] Key: %s", TestAPIKey)
	log.Printf("[Seeder] BusinessID: %s", TestBusinessID)
}

// SeedTestInstallation creates a usage-model installation with a 60-minute
// free tier at 150 minor units per minute.
func SeedTestInstallation(ctx context.Context, store pricing.Store) {
	inst := &pricing.Installation{
		BusinessID: TestBusinessID,
		AgentID:    TestAgentID,
		Model:      pricing.ModelUsage,
		Rates: pricing.RateCard{
			PerMinute:     150,
			PerMessage:    10,
			FreeLimit:     60,
			FreeLimitUnit: "minutes",
		},
		Status: pricing.StatusActive,
	}

	err := store.Create(ctx, inst)
	if err != nil {
		log.Printf("[Seeder] installation may already exist, skipping: %v", err)
		return
	}
	log.Printf("[Seeder] Test installation created for agent %s", TestAgentID)
}
