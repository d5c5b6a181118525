// Copyright 2024 The fe-php Authors
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

package phpembed

import "github.com/nzsys/fe-php/fephttp/internal/cgienv"

// jobResult is what a worker hands back on a job's one-shot channel.
type jobResult struct {
	raw []byte
	err error
}

// PhpJob is one unit of work handed to the worker pool (§4.8 "bounded
// channel of PhpJob"). reply is always buffered (size 1) so a worker's
// send never blocks even if nobody is left to receive it (§5
// Cancellation: "Workers must not block awaiting the receiver").
type PhpJob struct {
	ScriptFilename string
	Vars           []cgienv.Var
	Stdin          []byte

	reply chan jobResult
}

func newJob(scriptFilename string, vars []cgienv.Var, stdin []byte) *PhpJob {
	return &PhpJob{
		ScriptFilename: scriptFilename,
		Vars:           vars,
		Stdin:          stdin,
		reply:          make(chan jobResult, 1),
	}
}
