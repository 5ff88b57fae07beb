package dashboard

import "net/http"

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>takopi-smithers</title>
<style>
  :root {
    --bg: #0d1117;
    --surface: #161b22;
    --border: #30363d;
    --text: #e6edf3;
    --text-dim: #8b949e;
    --accent: #58a6ff;
    --green: #3fb950;
    --yellow: #d29922;
    --red: #f85149;
  }
  * { box-sizing: border-box; margin: 0; padding: 0; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
    background: var(--bg);
    color: var(--text);
    font-size: 14px;
    line-height: 1.5;
    padding: 16px;
  }
  header {
    display: flex;
    align-items: center;
    justify-content: space-between;
    margin-bottom: 16px;
    padding-bottom: 12px;
    border-bottom: 1px solid var(--border);
  }
  header h1 { font-size: 20px; font-weight: 600; }
  header h1 span { color: var(--accent); }
  .meta { font-size: 12px; color: var(--text-dim); }
  .summary { display: flex; gap: 12px; margin-bottom: 16px; }
  .stat {
    background: var(--surface);
    border: 1px solid var(--border);
    border-radius: 8px;
    padding: 8px 14px;
    min-width: 110px;
  }
  .stat .n { font-size: 20px; font-weight: 600; }
  .stat .l { font-size: 11px; color: var(--text-dim); text-transform: uppercase; }
  .card {
    background: var(--surface);
    border: 1px solid var(--border);
    border-radius: 8px;
    overflow: hidden;
  }
  table { width: 100%; border-collapse: collapse; }
  th, td { text-align: left; padding: 8px 12px; border-bottom: 1px solid var(--border); vertical-align: top; }
  th { font-size: 11px; color: var(--text-dim); text-transform: uppercase; letter-spacing: 0.5px; }
  .dot { display: inline-block; width: 9px; height: 9px; border-radius: 50%; margin-right: 6px; }
  .dot.ok { background: var(--green); box-shadow: 0 0 6px var(--green); }
  .dot.warn { background: var(--yellow); }
  .dot.bad { background: var(--red); }
  .dot.off { background: var(--text-dim); }
  .hint { color: var(--yellow); font-size: 12px; }
  .dim { color: var(--text-dim); font-size: 12px; }
  button {
    background: var(--bg);
    color: var(--text);
    border: 1px solid var(--border);
    border-radius: 6px;
    padding: 3px 10px;
    cursor: pointer;
    font-size: 12px;
    margin-right: 4px;
  }
  button:hover { border-color: var(--accent); }
  button:disabled { opacity: 0.5; cursor: default; }
  .empty { padding: 24px; text-align: center; color: var(--text-dim); }
</style>
</head>
<body>
<header>
  <h1>takopi-<span>smithers</span></h1>
  <div class="meta">updated <span id="updated">never</span></div>
</header>
<div class="summary" id="summary"></div>
<div class="card"><div id="worktrees" class="empty">Loading...</div></div>
<script>
const refreshMs = 5000;

function esc(s) {
  if (s === null || s === undefined) return '';
  const d = document.createElement('div');
  d.textContent = String(s);
  return d.innerHTML;
}

function dotClass(w) {
  if (!w.supervisorRunning) return 'off';
  if (w.paused) return 'warn';
  if (w.status === 'error' || w.phase === 'stopped_terminal') return 'bad';
  return w.heartbeatOk ? 'ok' : 'warn';
}

function age(s) {
  if (s === null || s === undefined) return 'never';
  if (s < 60) return s + 's ago';
  if (s < 3600) return Math.floor(s / 60) + 'm ago';
  return Math.floor(s / 3600) + 'h ago';
}

function renderSummary(s) {
  const items = [['Worktrees', s.total], ['Running', s.running], ['Paused', s.paused], ['Stale', s.stale]];
  document.getElementById('summary').innerHTML = items.map(([l, n]) =>
    '<div class="stat"><div class="n">' + n + '</div><div class="l">' + l + '</div></div>').join('');
}

function renderWorktrees(list) {
  const el = document.getElementById('worktrees');
  if (!list || list.length === 0) {
    el.className = 'empty';
    el.innerHTML = 'No configured worktrees';
    return;
  }
  el.className = '';
  let html = '<table><tr><th>Worktree</th><th>Workflow</th><th>Heartbeat</th><th>Recovery</th><th></th></tr>';
  list.forEach(w => {
    const b = encodeURIComponent(w.branch || '').replace(/%2F/g, '/');
    const pauseBtn = w.paused
      ? '<button onclick="act(this,\'' + b + '\',\'resume\')">Resume</button>'
      : '<button onclick="act(this,\'' + b + '\',\'pause\')">Pause</button>';
    html += '<tr>' +
      '<td><span class="dot ' + dotClass(w) + '"></span>' + esc(w.branch) +
        '<div class="dim">' + (w.supervisorRunning ? 'PID ' + esc(w.pid) + (w.phase ? ' · ' + esc(w.phase) : '') : 'not running') + '</div></td>' +
      '<td>' + esc(w.status) + '<div class="dim">' + esc(w.summary) + '</div>' +
        (w.nextAction ? '<div class="hint">' + esc(w.nextAction) + '</div>' : '') + '</td>' +
      '<td>' + age(w.heartbeatAgeSeconds) + '</td>' +
      '<td>' + esc(w.restarts) + ' restarts<div class="dim">' + esc(w.autoheals) + ' autoheals</div></td>' +
      '<td>' + (w.supervisorRunning ? '<button onclick="act(this,\'' + b + '\',\'restart\')">Restart</button>' + pauseBtn : '') + '</td>' +
    '</tr>';
  });
  el.innerHTML = html + '</table>';
}

async function fetchStatus() {
  try {
    const resp = await fetch('/api/status');
    if (!resp.ok) return;
    const data = await resp.json();
    document.getElementById('updated').textContent = new Date().toLocaleTimeString();
    renderSummary(data.summary);
    renderWorktrees(data.worktrees);
  } catch (e) {
    document.getElementById('updated').textContent = 'error';
  }
}

async function act(btn, branch, action) {
  btn.disabled = true;
  try {
    const resp = await fetch('/api/worktrees/' + branch + '/' + action, { method: 'POST' });
    const data = await resp.json();
    if (!resp.ok) alert(action + ' failed: ' + (data.error || data.message || resp.statusText));
  } catch (e) {
    alert(action + ' failed: ' + e.message);
  } finally {
    btn.disabled = false;
    fetchStatus();
  }
}

fetchStatus();
setInterval(fetchStatus, refreshMs);
</script>
</body>
</html>`
