package mockpds

import (
	"fmt"
	"strings"
)

// ParseAccount parses "handle:password" or "handle:password:did". Without a
// DID one is derived from the first label of the handle.
func ParseAccount(arg string) (Account, error) {
	parts := strings.SplitN(arg, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Account{}, fmt.Errorf("invalid account %q: expected handle:password[:did]", arg)
	}

	acct := Account{Handle: strings.ToLower(parts[0]), Password: parts[1]}
	if len(parts) == 3 {
		if !strings.HasPrefix(parts[2], "did:") {
			return Account{}, fmt.Errorf("invalid account %q: %q is not a DID", arg, parts[2])
		}
		acct.DID = parts[2]
	} else {
		label, _, _ := strings.Cut(acct.Handle, ".")
		acct.DID = "did:plc:" + label
	}
	return acct, nil
}
