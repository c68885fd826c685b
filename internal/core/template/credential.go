package template

import (
	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
)

// selectCredential picks which {ApiKey, EndpointOverride} pair a call should
// use. With an empty CredentialPool this is always the UserConfig's primary
// ApiKey/EndpointOverride. With a non-empty pool, the primary credential
// plus every pool entry
// compete via rendezvous hashing keyed on stickyKey (normally
// ConversationId, falling back to a digest of the pre-merge request when
// empty; the pipelines compute it), so
// one conversation consistently lands on the same upstream key/endpoint
// instead of round-robining across rate-limit buckets on every call.
func selectCredential(u UserConfig, stickyKey string) Credential {
	if len(u.CredentialPool) == 0 {
		return Credential{ApiKey: u.ApiKey, EndpointOverride: u.EndpointOverride}
	}

	candidates := make([]Credential, 0, len(u.CredentialPool)+1)
	candidates = append(candidates, Credential{ApiKey: u.ApiKey, EndpointOverride: u.EndpointOverride})
	candidates = append(candidates, u.CredentialPool...)

	nodes := make([]string, len(candidates))
	index := make(map[string]int, len(candidates))
	for i, c := range candidates {
		// ApiKey values are unique enough within one pool to serve as node
		// identity; duplicate keys would just collapse to one rendezvous
		// node, which is harmless.
		nodes[i] = c.ApiKey
		index[c.ApiKey] = i
	}

	r := rendezvous.New(nodes, xxhash.Sum64String)
	picked := r.Lookup(stickyKey)
	return candidates[index[picked]]
}
