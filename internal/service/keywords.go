package service

import (
	"sort"
	"strings"
)

// itKeywords are matched as lower-case substrings of title + summary
var itKeywords = []string{
	// general IT
	"it", "digital", "internet", "software", "hardware", "computer", "computere",
	"databehandling", "data", "datasikkerhed", "cyber", "cybersikkerhed",
	"elektronisk", "elektroniske", "digitalisering", "digitaliserings",
	"algoritme", "algoritmer", "kunstig intelligens", "ai", "maskinlæring",
	"big data", "cloud", "skyen", "server", "servere", "netværk", "datanet",
	"programmering", "kodning", "open source", "fri software",

	// privacy
	"persondata", "personoplysninger", "gdpr", "databeskyttelse",
	"privatlivets fred", "overvågning", "sporing",

	// telecom
	"telekommunikation", "bredbånd", "fibernet", "mobilnet", "5g", "6g",
	"internetudbyder", "teleudbyder",

	// public sector
	"offentlig digitalisering", "e-government", "digital forvaltning",
	"elektronisk sagsbehandling", "digital post", "nemid", "mitid",

	// security
	"sikkerhed", "kryptering", "certifikat", "certifikater", "hacking",
	"dataintrusion", "malware", "virus", "trojan", "ransomware",

	// emerging tech
	"blockchain", "kryptovaluta", "bitcoin", "nft", "metaverse",
	"quantum computing", "kvantecomputer",

	// platforms
	"platform", "platforme", "sociale medier", "facebook", "google",
	"amazon", "microsoft", "apple", "tech-giganter", "tech giganter",
}

// IsITRelevant reports whether text contains any IT keyword
func IsITRelevant(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range itKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ExtractITTopics returns the matched keywords, sorted
func ExtractITTopics(text string) []string {
	topics := []string{}
	if text == "" {
		return topics
	}
	lower := strings.ToLower(text)
	seen := map[string]bool{}
	for _, kw := range itKeywords {
		if !seen[kw] && strings.Contains(lower, kw) {
			seen[kw] = true
			topics = append(topics, kw)
		}
	}
	sort.Strings(topics)
	return topics
}
