package runtime

import "github.com/pkg/errors"

// ErrWindowAlreadyOpen is returned by StartOutput/StartRestart when a
// window of either kind is already open on this rank.
var ErrWindowAlreadyOpen = errors.New("runtime: a window is already open")

// ErrNoOutputWindow is returned by RouteFile/CompleteOutput when no
// output window is open.
var ErrNoOutputWindow = errors.New("runtime: no output window is open")

// ErrNoRestartWindow is returned by RouteFile/CompleteRestart when no
// restart window is open.
var ErrNoRestartWindow = errors.New("runtime: no restart window is open")

// ErrNoWindowOpen is returned by RouteFile when neither an output nor
// a restart window is open.
var ErrNoWindowOpen = errors.New("runtime: no output or restart window is open")

// ErrNoRestartAvailable is returned by StartRestart and Current when
// the index names no dataset directory matching the request.
var ErrNoRestartAvailable = errors.New("runtime: no matching restart dataset in index")

// ErrUnknownScheme is returned when CKPT's TYPE/SCR_COPY_TYPE names a
// redundancy scheme this library does not implement.
var ErrUnknownScheme = errors.New("runtime: unrecognized redundancy scheme")
