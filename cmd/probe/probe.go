package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/gem-payout/internal/config"
	"github/chapool/gem-payout/internal/util/command"
)

const (
	verboseFlag  string = "verbose"
	probeTimeout        = 10 * time.Second
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("probe",
		newLiveness(),
		newReadiness(),
	)
}

// probe requests a management endpoint of the running server. Any status
// other than 200 is an error.
func probe(ctx context.Context, cfg config.Server, path string) (string, error) {
	host, port, err := net.SplitHostPort(cfg.Management.ListenAddress)
	if err != nil {
		return "", errors.Wrapf(err, "invalid management listen address %q", cfg.Management.ListenAddress)
	}

	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s%s", net.JoinHostPort(host, port), path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Wrap(err, "failed to build probe request")
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to reach %s", url)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read probe response")
	}

	if res.StatusCode != http.StatusOK {
		return string(body), errors.Errorf("%s returned status %d", path, res.StatusCode)
	}

	return string(body), nil
}
