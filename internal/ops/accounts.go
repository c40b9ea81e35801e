package ops

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"hedgebot/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// LoadAccounts reads account ids from a JSON array or a text file with one id per line.
// Blank lines and lines starting with # are ignored.
func LoadAccounts(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read accounts %s", path)
	}
	return ParseAccounts(data)
}

func ParseAccounts(data []byte) ([]string, error) {
	var ids []string
	if trimmed := bytes.TrimSpace(data); len(trimmed) != 0 && trimmed[0] == '[' {
		if err := sonic.ConfigStd.Unmarshal(trimmed, &ids); err != nil {
			return nil, errors.Wrap(err, "decode accounts")
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(data))
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			ids = append(ids, line)
		}
		if err := sc.Err(); err != nil {
			return nil, errors.Wrap(err, "scan accounts")
		}
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w, empty account id", exception.ErrInvalidArgument)
		}
		if _, ok := seen[id]; ok {
			return nil, fmt.Errorf("%w, account: %s", exception.ErrPoolDuplicateAccount, id)
		}
		seen[id] = struct{}{}
	}
	if len(ids) == 0 {
		return nil, exception.ErrPoolEmpty
	}
	return ids, nil
}
