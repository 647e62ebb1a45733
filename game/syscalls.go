package game

// Export is a game entry point ID: the first argument slot pushed through
// callVM, matching the host's dispatch table for functions the QVM exports
// to the engine.
type Export uint32

const (
	GameInit Export = iota
	GameShutdown
	GameClientConnect
	GameClientThink
	GameClientUserinfoChanged
	GameClientDisconnect
	GameClientBegin
	GameClientCommand
	GameRunFrame
	GameConsoleCommand
)

// Import is a host syscall ID: what a negative CALL target resolves to.
// The numbering below mirrors the fixed small-integer table the bytecode
// was compiled against; it MUST be matched exactly or the loaded QVM will
// call the wrong trap.
type Import uint32

const (
	GPrint Import = iota
	GError
	GMilliseconds
	GCvarRegister
	GCvarUpdate
	GCvarSet
	GCvarVariableIntegerValue
	GCvarVariableStringBuffer
	GArgc
	GArgv
	GFSFOpenFile
	GFSRead
	GFSWrite
	GFSFCloseFile
	GSendConsoleCommand
	GLocateGameData
	GDropClient
	GSendServerCommand
	GSetConfigstring
	GGetConfigstring
	GGetUserinfo
	GSetUserinfo
	GGetServerinfo
	GSetBrushModel
	GTrace
	GPointContents
	GInPVS
	GInPVSIgnorePortals
	GAdjustAreaPortalState
	GAreasConnected
	GLinkEntity
	GUnlinkEntity
	GEntitiesInBox
	GEntityContact
	GGetUsercmd
	GGetEntityToken
	GSnapVector
	GRealTime
)

// trapsBase starts the block of free-function math/memory host calls,
// numbered well above the game-import IDs so new imports never collide
// with them.
const trapsBase = 100

const (
	TrapMemset Import = trapsBase + iota
	TrapMemcpy
	TrapStrncpy
	TrapSin
	TrapCos
	TrapAtan2
	TrapSqrt
	TrapMatrixMultiply
	TrapAngleVectors
	TrapPerpendicularVector
	TrapFloor
	TrapCeil
)
