package veeam

import "strings"

var windowsIndicators = []string{
	"windows", "win", "dc", "exchange", "sql", "iis", "sharepoint", "ad", "wsus",
}

var linuxIndicators = []string{
	"linux", "ubuntu", "centos", "debian", "rhel", "redhat", "suse", "fedora",
	"nginx", "apache", "mysql", "postgres", "docker", "k8s", "kube",
}

// DetectOSType guesses the guest OS from backup metadata. The platform
// name is authoritative when it carries an OS hint; otherwise the machine
// and backup names are matched against known naming conventions.
func DetectOSType(name, platformName, vmName string) string {
	platform := strings.ToLower(platformName)
	if strings.Contains(platform, "windows") {
		return "windows"
	}
	if strings.Contains(platform, "linux") {
		return "linux"
	}

	haystack := strings.ToLower(name + " " + vmName)
	for _, indicator := range linuxIndicators {
		if containsToken(haystack, indicator) {
			return "linux"
		}
	}
	for _, indicator := range windowsIndicators {
		if containsToken(haystack, indicator) {
			return "windows"
		}
	}
	return "unknown"
}

// containsToken matches an indicator as a word fragment delimited by
// non-alphanumeric characters, so "dc" matches "dc01-daily" but not "hdcopy"
func containsToken(haystack, token string) bool {
	idx := 0
	for {
		i := strings.Index(haystack[idx:], token)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(token)

		beforeOK := start == 0 || !isAlnum(haystack[start-1])
		afterOK := end == len(haystack) || !isAlpha(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

func isAlpha(b byte) bool {
	return b >= 'a' && b <= 'z'
}
