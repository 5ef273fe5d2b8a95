package mapillary

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// DefaultTokenFile is the fallback token source when no env var is set.
const DefaultTokenFile = "mapillary_token"

// Env vars checked for the API token, in priority order.
var tokenEnvVars = []string{"API_TOKEN", "MAPPILLARY_API_TOKEN", "MAPILLARY_TOKEN"}

// ErrNoToken is returned when no token source yields a non-empty value.
var ErrNoToken = errors.New("no Mapillary API token found (set API_TOKEN, MAPPILLARY_API_TOKEN or MAPILLARY_TOKEN, or create a mapillary_token file)")

// ResolveToken checks the token env vars in priority order, then falls
// back to the token file (first line, trimmed). Call it once per process
// and hand the value to NewClient; clients never read the environment
// themselves.
func ResolveToken(tokenFile string) (string, error) {
	for _, k := range tokenEnvVars {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v, nil
		}
	}

	if tokenFile == "" {
		tokenFile = DefaultTokenFile
	}
	f, err := os.Open(tokenFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if sc.Scan() {
		if tok := strings.TrimSpace(sc.Text()); tok != "" {
			return tok, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", ErrNoToken
}
