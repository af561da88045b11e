package server

import (
	"html"
	"net/http"
	"strings"
)

func isHX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func setLangCookie(w http.ResponseWriter, lang string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "lang",
		Value:    lang,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func renderNav(r *http.Request) string {
	l := lang(r)
	return `<nav><ul>` +
		`<li><a href="/app/employees" hx-get="/app/employees" hx-target="#content" hx-push-url="true">` + tr(l, "nav_employees") + `</a></li>` +
		`<li><a href="/app/timesheets" hx-get="/app/timesheets" hx-target="#content" hx-push-url="true">` + tr(l, "nav_timesheets") + `</a></li>` +
		`<li><a href="/app/payroll/periods" hx-get="/app/payroll/periods" hx-target="#content" hx-push-url="true">` + tr(l, "nav_periods") + `</a></li>` +
		`<li><a href="/app/payroll/runs" hx-get="/app/payroll/runs" hx-target="#content" hx-push-url="true">` + tr(l, "nav_payroll") + `</a></li>` +
		`<li><a href="/app/filings" hx-get="/app/filings" hx-target="#content" hx-push-url="true">` + tr(l, "nav_filings") + `</a></li>` +
		`<li><a href="/app/bank-files" hx-get="/app/bank-files" hx-target="#content" hx-push-url="true">` + tr(l, "nav_bank_files") + `</a></li>` +
		`<li><a href="/app/settings" hx-get="/app/settings" hx-target="#content" hx-push-url="true">` + tr(l, "nav_settings") + `</a></li>` +
		`</ul></nav>`
}

func renderTopbar(r *http.Request) string {
	var b strings.Builder
	b.WriteString(`<div>`)
	b.WriteString(`<a href="/lang/en">EN</a> | <a href="/lang/pt">PT</a>`)
	b.WriteString(`</div>`)

	return b.String()
}

func lang(r *http.Request) string {
	c, err := r.Cookie("lang")
	if err != nil {
		return "en"
	}
	if c.Value == "pt" {
		return "pt"
	}
	return "en"
}

func tr(lang string, key string) string {
	if lang == "pt" {
		switch key {
		case "nav_employees":
			return "Funcionários"
		case "nav_timesheets":
			return "Ponto"
		case "nav_periods":
			return "Períodos"
		case "nav_payroll":
			return "Folha de Pagamento"
		case "nav_filings":
			return "Declarações"
		case "nav_bank_files":
			return "Ficheiros Bancários"
		case "nav_settings":
			return "Definições"
		case "as_of":
			return "Data de referência"
		case "login":
			return "Entrar"
		case "logout":
			return "Sair"
		}
	}

	switch key {
	case "nav_employees":
		return "Employees"
	case "nav_timesheets":
		return "Timesheets"
	case "nav_periods":
		return "Pay Periods"
	case "nav_payroll":
		return "Payroll Runs"
	case "nav_filings":
		return "Filings"
	case "nav_bank_files":
		return "Bank Files"
	case "nav_settings":
		return "Settings"
	case "as_of":
		return "As-of"
	case "login":
		return "Login"
	case "logout":
		return "Logout"
	default:
		return ""
	}
}

func renderLoginForm(errMsg string) string {
	var b strings.Builder
	b.WriteString(`<h1>Login</h1>`)
	if errMsg != "" {
		b.WriteString(`<p style="color:#b00020">` + html.EscapeString(errMsg) + `</p>`)
	}
	b.WriteString(`<form method="POST" action="/app/login">`)
	b.WriteString(`<label>Email <input type="email" name="email" autocomplete="username" required></label><br>`)
	b.WriteString(`<label>Password <input type="password" name="password" autocomplete="current-password" required></label><br>`)
	b.WriteString(`<button type="submit">Login</button>`)
	b.WriteString(`</form>`)
	return b.String()
}

func writeShell(w http.ResponseWriter, r *http.Request, bodyHTML string) {
	writeShellWithStatus(w, r, http.StatusOK, bodyHTML)
}

func writeShellWithStatus(w http.ResponseWriter, r *http.Request, status int, bodyHTML string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(renderShell(r, bodyHTML)))
}

func writeContent(w http.ResponseWriter, _ *http.Request, bodyHTML string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(bodyHTML))
}

func writeContentWithStatus(w http.ResponseWriter, _ *http.Request, status int, bodyHTML string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(bodyHTML))
}

func writePage(w http.ResponseWriter, r *http.Request, bodyHTML string) {
	if isHX(r) {
		writeContent(w, r, bodyHTML)
		return
	}
	writeShell(w, r, bodyHTML)
}

func writePageWithStatus(w http.ResponseWriter, r *http.Request, status int, bodyHTML string) {
	if isHX(r) {
		writeContentWithStatus(w, r, status, bodyHTML)
		return
	}
	writeShellWithStatus(w, r, status, bodyHTML)
}

func renderShell(r *http.Request, bodyHTML string) string {
	var b strings.Builder
	b.WriteString("<!doctype html><html><head>")
	b.WriteString(`<meta charset="utf-8">`)
	b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	b.WriteString(`<link rel="stylesheet" href="/assets/app.css">`)
	b.WriteString("<title>Meza</title>")
	b.WriteString("</head><body>")
	b.WriteString(`<header>`)
	b.WriteString(renderTopbar(r))
	b.WriteString(renderNav(r))
	b.WriteString(`</header>`)
	b.WriteString(`<main id="content">`)
	b.WriteString(bodyHTML)
	b.WriteString("</main></body></html>")
	return b.String()
}

func redirectBack(w http.ResponseWriter, r *http.Request) {
	ref := r.Header.Get("Referer")
	if ref == "" {
		ref = "/app"
	}
	http.Redirect(w, r, ref, http.StatusFound)
}
