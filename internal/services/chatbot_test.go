package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dsolar/internal/testutil"
)

func TestDetectIntent(t *testing.T) {
	cases := map[string]string{
		"Hello there!":                      IntentGreeting,
		"How much is a 5kW system?":         IntentPricing,
		"I want to book a site visit":       IntentBooking,
		"what's the difference, hybrid?":    IntentSystems,
		"Can you estimate my system size":   IntentCalculator,
		"will it lower my bill":             IntentSavings,
		"how much can I save?":              IntentSavings,
		"How much money will I be saving":   IntentSavings,
		"how much is the hybrid package":    IntentPricing,
		"what are your office hours":        IntentContact,
		"asdf qwerty":                       IntentFallback,
		"this is about something unrelated": IntentFallback,
	}
	for msg, want := range cases {
		require.Equal(t, want, DetectIntent(msg), msg)
	}
}

func TestChatPricingQuotesCheapestPackages(t *testing.T) {
	db := testutil.NewDB(t)
	pkgs := NewPackageService(db)
	ctx := context.Background()
	bot := NewChatbotService(pkgs, NewCalculatorService(NewSettingService(db), pkgs), "D-Solar")

	reply, err := bot.Reply(ctx, "what are your prices?")
	require.NoError(t, err)
	require.Equal(t, IntentPricing, reply.Intent)
	require.Contains(t, reply.Reply, "consultation")

	_, err = pkgs.SeedDefaults(ctx)
	require.NoError(t, err)
	reply, err = bot.Reply(ctx, "what are your prices?")
	require.NoError(t, err)
	require.Contains(t, reply.Reply, "On-grid systems start at PHP 165,000.00")
	require.Contains(t, reply.Reply, "Hybrid systems start at PHP 255,000.00")
	require.NotEmpty(t, reply.Links)
}

func TestChatRejectsEmptyAndLongMessages(t *testing.T) {
	db := testutil.NewDB(t)
	pkgs := NewPackageService(db)
	bot := NewChatbotService(pkgs, NewCalculatorService(NewSettingService(db), pkgs), "D-Solar")
	_, err := bot.Reply(context.Background(), "   ")
	require.ErrorIs(t, err, ErrValidation)
	_, err = bot.Reply(context.Background(), strings.Repeat("a", maxChatMessage+1))
	require.ErrorIs(t, err, ErrValidation)

	reply, err := bot.Reply(context.Background(), "hi")
	require.NoError(t, err)
	require.Equal(t, IntentGreeting, reply.Intent)
	require.Contains(t, reply.Reply, "D-Solar")
}
