// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


/*
Package lifecycle holds the process-level operations behind tool servers and
the long-running toolbridge server.

# Stopping a Process

Tool servers are started in their own process group. GracefulShutdown sends
SIGTERM to the group, waits for the reaper to report the exit, and falls back
to SIGKILL once the grace period runs out:

	err := lifecycle.GracefulShutdown(ctx, pid, exited, 5*time.Second)

The exited channel must be closed by whoever calls Wait on the process, so
the process is never reaped twice.

# PID Files

A serving toolbridge can hold a PID file so that a second instance refuses
to start. Files left behind by a dead process are replaced:

	pf := lifecycle.NewPIDFile("/run/user/1000/toolbridge.pid")
	if err := pf.Acquire(os.Getpid()); err != nil {
	    return err
	}
	defer pf.Release()
*/
package lifecycle
