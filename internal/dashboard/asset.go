package dashboard

// DefaultHTML is a minimal dashboard page: a live event feed over the /ws
// WebSocket plus links into the run-history API. A full operator UI is
// outside this module's scope (spec §1 Non-goals: "providing a UI");
// this asset exists so GET / returns something useful out of the box.
const DefaultHTML = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Chaos Proxy Dashboard</title></head>
<body>
<h1>Chaos Proxy</h1>
<p><a href="/api/runs">/api/runs</a></p>
<pre id="feed"></pre>
<script>
const feed = document.getElementById('feed');
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
ws.onmessage = (ev) => {
  feed.textContent = ev.data + "\n" + feed.textContent;
};
</script>
</body>
</html>
`
