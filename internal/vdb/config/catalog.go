package config

// DefaultCatalog returns the built-in source repository catalog. The cache is
// a pure mirror of these repositories; entries marked optional may legitimately
// not exist (private or retired upstreams) and are probed before syncing.
func DefaultCatalog() []Source {
	return []Source{
		{Name: "vuln-list", URL: "https://github.com/aquasecurity/vuln-list", Ref: "main"},
		{Name: "vuln-list-nvd", URL: "https://github.com/aquasecurity/vuln-list-nvd", Ref: "main"},
		{Name: "vuln-list-redhat", URL: "https://github.com/aquasecurity/vuln-list-redhat", Ref: "main"},
		{Name: "vuln-list-debian", URL: "https://github.com/aquasecurity/vuln-list-debian", Ref: "main"},
		{Name: "vuln-list-ubuntu", URL: "https://github.com/aquasecurity/vuln-list-ubuntu", Ref: "main"},
		{Name: "vuln-list-alpine", URL: "https://github.com/aquasecurity/vuln-list-alpine", Ref: "main"},
		{Name: "vuln-list-amazon", URL: "https://github.com/aquasecurity/vuln-list-amazon", Ref: "main"},
		{Name: "vuln-list-oracle", URL: "https://github.com/aquasecurity/vuln-list-oracle", Ref: "main"},
		{Name: "vuln-list-suse", URL: "https://github.com/aquasecurity/vuln-list-suse", Ref: "main"},
		{Name: "vuln-list-photon", URL: "https://github.com/aquasecurity/vuln-list-photon", Ref: "main"},
		{Name: "vuln-list-cvrf", URL: "https://github.com/aquasecurity/vuln-list-cvrf", Ref: "main"},
		{Name: "vuln-list-k8s", URL: "https://github.com/aquasecurity/vuln-list-k8s", Ref: "main"},
		{Name: "vuln-list-aqua", URL: "https://github.com/aquasecurity/vuln-list-aqua", Ref: "main", Optional: true},
		{Name: "appstream-data", URL: "https://github.com/aquasecurity/appstream-data", Ref: "main", Optional: true},
		{Name: "trivy-db-data", URL: "https://github.com/aquasecurity/trivy-db-data", Ref: "main", Optional: true},
	}
}
