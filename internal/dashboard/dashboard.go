// Package dashboard serves a single self-refreshing HTML page that
// polls the proxy's stats endpoint from the browser.
package dashboard

import (
	"html/template"
	"net/http"
)

type Handler struct {
	mux  *http.ServeMux
	tmpl *template.Template

	// StatsURL is where the page fetches live stats from, as seen
	// from the browser.
	statsURL string
}

func New(statsURL string) *Handler {
	h := &Handler{
		mux:      http.NewServeMux(),
		tmpl:     template.Must(template.New("dashboard").Parse(pageHTML)),
		statsURL: statsURL,
	}
	h.mux.HandleFunc("GET /", h.handleIndex)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	h.tmpl.Execute(w, map[string]string{"StatsURL": h.statsURL})
}

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>tokenmeter</title>
<style>
  body { font-family: ui-monospace, monospace; background: #0d1117; color: #c9d1d9; margin: 2rem; }
  h1 { font-size: 1.3rem; }
  .cards { display: flex; gap: 1rem; flex-wrap: wrap; }
  .card { background: #161b22; border: 1px solid #30363d; border-radius: 6px; padding: 1rem 1.5rem; min-width: 10rem; }
  .card .value { font-size: 1.6rem; color: #58a6ff; }
  table { border-collapse: collapse; margin-top: 1.5rem; width: 100%; }
  th, td { border-bottom: 1px solid #30363d; padding: 0.4rem 0.8rem; text-align: left; font-size: 0.85rem; }
  th { color: #8b949e; }
</style>
</head>
<body>
<h1>tokenmeter</h1>
<div class="cards">
  <div class="card"><div>requests today</div><div class="value" id="req-today">-</div></div>
  <div class="card"><div>tokens today</div><div class="value" id="tok-today">-</div></div>
  <div class="card"><div>cost today</div><div class="value" id="cost-today">-</div></div>
  <div class="card"><div>total cost</div><div class="value" id="cost-total">-</div></div>
</div>
<table>
  <thead><tr><th>time</th><th>provider</th><th>model</th><th>in</th><th>out</th><th>cost</th><th>status</th></tr></thead>
  <tbody id="recent"></tbody>
</table>
<script>
const statsURL = {{.StatsURL}};
async function refresh() {
  try {
    const res = await fetch(statsURL);
    const data = await res.json();
    document.getElementById('req-today').textContent = data.today.requestCount;
    document.getElementById('tok-today').textContent = data.today.totalTokens.toLocaleString();
    document.getElementById('cost-today').textContent = '$' + data.today.cost.toFixed(4);
    document.getElementById('cost-total').textContent = '$' + data.total.totalCost.toFixed(4);
    const rows = (data.recentRequests || []).map(r =>
      '<tr><td>' + new Date(r.timestamp).toLocaleTimeString() +
      '</td><td>' + r.provider + '</td><td>' + r.model +
      '</td><td>' + r.inputTokens + '</td><td>' + r.outputTokens +
      '</td><td>$' + r.cost.toFixed(6) + '</td><td>' + r.status + '</td></tr>');
    document.getElementById('recent').innerHTML = rows.join('');
  } catch (err) {
    console.error('stats fetch failed', err);
  }
}
refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>`
