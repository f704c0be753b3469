// Package lib provides a Go SDK to run weather data processing scripts and pipelines
// programmatically.
//
// This package allows applications to launch scripts, follow their progress and
// orchestrate pipelines without shelling out to the wxpipe CLI binary.
//
// # Quick Start
//
// Create a client and run a single script:
//
//	client, err := lib.New(ctx, lib.Config{Interpreter: "python"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	st := client.RunScript(ctx, "Python/DataProcessing.py", "--radar")
//	code, err := st.Wait(ctx)
//
// # Progress Protocol
//
// Scripts report progress writing `Progress: <number>% <message>` lines to their
// standard output. The rest of the lines are plain output.
//
// # Pipelines
//
// Pipelines are ordered stages of scripts. All the pipelines of an orchestrator run
// concurrently, the stages of a pipeline run one after the other:
//
//	orch, err := client.NewOrchestrator([]lib.Pipeline{
//	    {
//	        Name: "radar",
//	        Stages: []lib.Stage{
//	            {Name: "download", Script: "Python/DataProcessing.py", MaxAttempts: 3},
//	        },
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	if err := orch.Start(ctx); err != nil {
//	    return err
//	}
//	state, err := orch.Wait(ctx)
//
// A stage fails when its script exits with a positive exit code after all its attempts.
// A failed stage fails its pipeline and the whole run, the other pipelines keep running.
// Wait returns as soon as the run state is terminal, WaitFinished also waits for the
// remaining pipelines and the run history. Cancel stops them keeping the failed state.
//
// # Progress Bars
//
// Every pipeline has a progress bar ([Orchestrator.Progress]). Standalone bars can be
// linked to script statuses with [NewProgressBar].
//
// # History
//
// Runs started by the client orchestrators are recorded, see [Client.ListRuns] and
// [Client.GetRun]. Use [Config].InMemoryHistory for tests.
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Resource does not exist.
//   - [ErrAlreadyExists]: Resource already exists (e.g starting an orchestrator twice).
//   - [ErrNotValid]: Invalid input.
//
// Script and pipeline failures are not errors, they are reported as states.
//
// # Thread Safety
//
// A [Client], its statuses, orchestrators and bars are safe for concurrent use.
package lib
