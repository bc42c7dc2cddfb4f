package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/clearline/recon/internal/common"
	"github.com/clearline/recon/internal/config"
	"github.com/clearline/recon/internal/dispatch"
	"github.com/clearline/recon/internal/engine"
	"github.com/clearline/recon/internal/events"
	"github.com/clearline/recon/internal/model"
	"github.com/clearline/recon/internal/storage"
)

// initStorage initializes the session store with proper path expansion.
func initStorage() (*storage.SQLiteStore, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/recon/recon.db"
	}
	dbPath = config.ExpandPath(dbPath)

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}

// rulesFromConfig builds the default rule configuration from viper.
func rulesFromConfig() (model.RuleConfig, error) {
	rules := model.DefaultRuleConfig()

	if tolerance := viper.GetString("rules.amount_tolerance"); tolerance != "" {
		parsed, err := decimal.NewFromString(tolerance)
		if err != nil {
			return rules, common.NewValidationError("amountTolerance", "not a valid amount")
		}
		rules.AmountTolerance = parsed
	}
	if viper.IsSet("rules.date_tolerance_days") {
		rules.DateToleranceDays = viper.GetInt("rules.date_tolerance_days")
	}
	if fields := viper.GetStringSlice("rules.match_fields"); len(fields) > 0 {
		rules.MatchFields = nil
		for _, f := range fields {
			rules.MatchFields = append(rules.MatchFields, model.MatchField(f))
		}
	}
	if strictness := viper.GetString("rules.duplicate_strictness"); strictness != "" {
		rules.DuplicateStrictness = model.DuplicateStrictness(strictness)
	}

	return rules, rules.Validate()
}

// initEngine wires the store, dispatcher, and event bus into an engine.
// The caller owns closing the returned store.
func initEngine() (*engine.Engine, *storage.SQLiteStore, *events.Bus, error) {
	store, err := initStorage()
	if err != nil {
		return nil, nil, nil, err
	}

	rules, err := rulesFromConfig()
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}

	cfg := dispatch.DefaultConfig()
	if timeout := viper.GetDuration("analysis.timeout"); timeout > 0 {
		cfg.Timeout = timeout
	}

	bus := events.NewBus()
	dispatcher := dispatch.New(store, dispatch.NewHeuristicAnalyzer(), bus, cfg)
	return engine.New(store, dispatcher, rules), store, bus, nil
}

// waitTimeout returns how long CLI commands wait for async analysis
// before giving up on printing its outcome.
func waitTimeout() time.Duration {
	timeout := viper.GetDuration("analysis.timeout")
	if timeout <= 0 {
		timeout = dispatch.DefaultConfig().Timeout
	}
	return timeout + 5*time.Second
}
