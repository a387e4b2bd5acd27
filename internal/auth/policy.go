package auth

import (
	"net/http"
	"strings"
)

// Rule maps requests to a permission. An empty Method matches any method.
type Rule struct {
	Method     string
	Prefix     string
	Permission Permission
}

// Policy resolves the permission a request needs.
type Policy struct {
	Public []string
	Rules  []Rule
}

// YardPolicy returns the dashboard route table. public paths skip auth.
func YardPolicy(public ...string) Policy {
	return Policy{
		Public: public,
		Rules: []Rule{
			{Method: http.MethodPost, Prefix: "/api/v1/alerts/", Permission: PermAcknowledge},
			{Method: http.MethodPost, Prefix: "/api/v1/parking/", Permission: PermAllocate},
			{Method: http.MethodPost, Prefix: "/api/v1/gates/", Permission: PermAllocate},
			{Prefix: "/api/v1/exports/", Permission: PermExport},
			{Method: http.MethodGet, Prefix: "/api/", Permission: PermView},
			{Method: http.MethodHead, Prefix: "/api/", Permission: PermView},
			{Prefix: "/api/", Permission: PermAllocate},
		},
	}
}

// Resolve returns the permission for r. ok is false for public routes and
// paths outside the rule table.
func (p Policy) Resolve(r *http.Request) (perm Permission, ok bool) {
	if r == nil {
		return "", false
	}
	for _, path := range p.Public {
		if r.URL.Path == path {
			return "", false
		}
	}
	for _, rule := range p.Rules {
		if rule.Method != "" && rule.Method != r.Method {
			continue
		}
		if strings.HasPrefix(r.URL.Path, rule.Prefix) {
			return rule.Permission, true
		}
	}
	return "", false
}
