package config

import "fmt"

// Set at build time:
//
//	go build -ldflags "-X github/chapool/gem-payout/internal/config.Commit=$(git rev-parse HEAD)"
var (
	ModuleName = "gem-payout"
	Commit     = "dev"
	BuildDate  = "1970-01-01T00:00:00+00:00"
)

// GetFormattedBuildArgs returns "<ModuleName> @ <Commit> (<BuildDate>)".
func GetFormattedBuildArgs() string {
	return fmt.Sprintf("%v @ %v (%v)", ModuleName, Commit, BuildDate)
}
