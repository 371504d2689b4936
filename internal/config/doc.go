// Package config loads the options stored at a backup destination.
//
// The destination config is a KEY=VALUE file, read with Viper using its
// dotenv format so the files written by earlier shell-based versions of
// the tool keep working:
//
//	SLOWNET=false
//	MAXBACKUPS=8
//
// Values are layered, later sources winning:
//
//  1. built-in defaults ([Default])
//  2. the user file $XDG_CONFIG_HOME/backsnap/config, if present
//  3. <dest>/.backsnap/config, if present
//  4. BACKSNAP_<KEY> environment variables
//
// Every loaded configuration is validated; any problem is reported as an
// error marked with errors.ErrConfiguration, which is fatal for a run.
package config
