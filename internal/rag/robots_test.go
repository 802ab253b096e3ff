package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRobotsTxt_GroupsAndSitemaps(t *testing.T) {
	rules := parseRobotsTxt(`
# comment
User-agent: *
Disallow: /private/
Allow: /private/public-subtree/

Sitemap: https://example.com/sitemap.xml
Sitemap: https://example.com/sitemap-news.xml
`)

	require.Len(t, rules.Groups, 1)
	assert.Equal(t, []string{"*"}, rules.Groups[0].Agents)
	assert.Equal(t, []string{"/private/"}, rules.Groups[0].Disallow)
	assert.Equal(t, []string{"https://example.com/sitemap.xml", "https://example.com/sitemap-news.xml"}, rules.Sitemaps)
}

func TestIsPathAllowed_LongestMatchWins(t *testing.T) {
	rules := parseRobotsTxt(`
User-agent: *
Disallow: /private/
Allow: /private/public-subtree/
`)

	assert.False(t, isPathAllowed(rules, "toolgate-rag-crawler/1.0", "/private/secret"))
	assert.True(t, isPathAllowed(rules, "toolgate-rag-crawler/1.0", "/private/public-subtree/page"))
	assert.True(t, isPathAllowed(rules, "toolgate-rag-crawler/1.0", "/docs/intro"))
}

func TestIsPathAllowed_NoApplicableGroupAllows(t *testing.T) {
	rules := parseRobotsTxt(`
User-agent: some-other-bot
Disallow: /
`)
	assert.True(t, isPathAllowed(rules, "toolgate-rag-crawler/1.0", "/anything"))
}

func TestIsLocalOrPrivateHost(t *testing.T) {
	assert.True(t, isLocalOrPrivateHost("localhost"))
	assert.True(t, isLocalOrPrivateHost("10.0.0.5"))
	assert.True(t, isLocalOrPrivateHost("192.168.1.1"))
	assert.False(t, isLocalOrPrivateHost("example.com"))
	assert.False(t, isLocalOrPrivateHost("8.8.8.8"))
}
