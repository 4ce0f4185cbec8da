/*
Package sandbox provides the isolated script realm that preview documents are
loaded into.

# Overview

A Frame is the embedding context. Every Load replaces its content with a new
Window: the document is parsed into a DOM tree, a fresh goja runtime is
created for it, and nothing from the previous window survives. Two windows
never share a global scope.

# Execution

Window.Run executes the document's scripts in order on the window's own
goroutine, so the host returns from Load before any generated code runs.
External scripts are resolved through a ScriptLoader; the EmbeddedLoader maps
the React and ReactDOM UMD URLs onto a static rendering runtime shipped with
the binary. Each script runs independently: an uncaught exception raises an
"error" event and the next script still runs. Timer callbacks are queued and
drained in virtual time after the last script.

# Error events

Error events go first to handlers registered from inside the realm with
window.addEventListener('error', ...) and then to host listeners registered
with AddErrorListener. Once a window is discarded it stops dispatching.

# Limits

  - Execution timeout (the VM is interrupted)
  - Maximum call stack size
  - Maximum number of timer callbacks per window
  - No require, process, module or network access
*/
package sandbox
