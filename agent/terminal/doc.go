// Package terminal implements the interactive command-line front end.
//
// Lines typed by the operator are user requests unless they start with "/":
//
//	/clear          reset the conversation to a fresh system turn
//	/model [name]   show or change the model (resets the conversation)
//	/cd [dir]       show or change the working directory (resets the conversation)
//	/tools          list available tools
//	/help           list commands
//	/exit, /quit    leave
//
// Model output is streamed as it arrives. Tool calls that are not
// auto-approved are shown with their arguments and answered with y (or
// enter), n or q. Declining skips the call; q ends the session.
//
// Tool verbosity controls what else is shown: none hides auto-approved calls,
// info shows their names, all adds arguments and results (cut to 20 lines).
// When stdout is a terminal, final answers are also rendered as markdown.
package terminal
