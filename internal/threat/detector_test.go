// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package threat

import (
	"strings"
	"testing"
)

func TestDetectXSS(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"script tag", "<script>alert(1)</script>", true},
		{"script tag with space", "< script >alert(1)</script>", true},
		{"uppercase script", "<SCRIPT>alert(1)</SCRIPT>", true},
		{"img onerror", "<img onerror=alert(1)>", true},
		{"onmouseover handler", `<div onmouseover = "steal()">`, true},
		{"javascript uri", `<a href="javascript:alert(1)">x</a>`, true},
		{"iframe", "<iframe src=//evil>", true},
		{"data text html", "data:text/html;base64,xyz", true},
		{"plain text", "hello world", false},
		{"benign html", "<p>hello</p>", false},
		{"math expression", "a < b && b > c", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectXSS(tt.input); got != tt.want {
				t.Errorf("DetectXSS(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDetectSQLInjection(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"drop table", "'; DROP TABLE users; --", true},
		{"union select", "1 UNION SELECT password FROM users", true},
		{"union all select", "x UNION ALL SELECT * FROM t", true},
		{"quoted tautology", "' OR '1'='1", true},
		{"numeric tautology", "1 OR 1=1", true},
		{"comment after quote", "admin'--", true},
		{"stacked delete", "x; DELETE FROM logs", true},
		{"waitfor delay", "1'; WAITFOR DELAY '0:0:5'--", true},
		{"normal search text", "normal search text", false},
		{"select in prose", "please select a document", false},
		{"double dash in prose", "well -- you know", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectSQLInjection(tt.input); got != tt.want {
				t.Errorf("DetectSQLInjection(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScan(t *testing.T) {
	if typ, hit := Scan("<script>x</script>"); !hit || typ != TypeXSS {
		t.Errorf("Scan(xss) = (%v, %v), want (xss, true)", typ, hit)
	}
	if typ, hit := Scan("'; DROP TABLE t; --"); !hit || typ != TypeSQLInjection {
		t.Errorf("Scan(sqli) = (%v, %v), want (sql_injection, true)", typ, hit)
	}
	if _, hit := Scan("ordinary note about homework"); hit {
		t.Error("Scan flagged benign input")
	}
}

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain text", "hello world", "hello world"},
		{"allowed tags kept", "<p>hi <b>there</b></p>", "<p>hi <b>there</b></p>"},
		{"script removed with body", "a<script>alert(1)</script>b", "ab"},
		{"disallowed tag stripped", `<a href="x">link</a>`, "link"},
		{"attributes dropped", `<p class="x" onclick="evil()">t</p>`, "<p>t</p>"},
		{"case normalized", "<P>t</P>", "<p>t</p>"},
		{"iframe stripped", "<iframe src=//evil></iframe>x", "x"},
		{"split script tag", "<scr<script>ipt>alert(1)", "ipt>alert(1)"},
		{"style block removed", "<style>p{}</style>text", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeHTML(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeHTML_Idempotent(t *testing.T) {
	inputs := []string{
		"<script>alert(1)</script>",
		"<p onclick=x>safe</p>",
		`<img src=x onerror=alert(1)>`,
		"<scr<script>ipt>alert(1)</scr</script>ipt>",
		"plain text with < and >",
		"<b><i>nested</i></b>",
	}

	for _, input := range inputs {
		once := SanitizeHTML(input)
		twice := SanitizeHTML(once)
		if once != twice {
			t.Errorf("SanitizeHTML not idempotent for %q: first %q, second %q", input, once, twice)
		}
	}
}

func TestSanitizeHTML_NeverEmitsScript(t *testing.T) {
	inputs := []string{
		"<script>alert(1)</script>",
		"<SCRIPT SRC=//evil></SCRIPT>",
		"<scr<script>ipt>alert(1)</script>",
		"before<script a=b>mid</script>after",
	}

	for _, input := range inputs {
		got := SanitizeHTML(input)
		if strings.Contains(strings.ToLower(got), "<script") {
			t.Errorf("SanitizeHTML(%q) = %q still contains a script tag", input, got)
		}
	}
}
