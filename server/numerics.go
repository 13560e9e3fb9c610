package server

import (
	"fmt"

	"github.com/mitchr/braid/user"
)

const (
	RPL_WELCOME          = ":%s 001 %s :Welcome to the %s IRC Network %s"
	RPL_YOURHOST         = ":%s 002 %s :Your host is %s, running version %s"
	RPL_CREATED          = ":%s 003 %s :This server was created %s"
	RPL_MYINFO           = ":%s 004 %s %s %s %s %s"
	RPL_ISUPPORT         = ":%s 005 %s %s :are supported by this server"
	RPL_MAP              = ":%s 006 %s :%s"
	RPL_MAPEND           = ":%s 007 %s :End of /MAP"
	RPL_SNOMASK          = ":%s 008 %s +s %s :Server notice mask"
	RPL_UMODEIS          = ":%s 221 %s +%s"
	RPL_STATSUPTIME      = ":%s 242 %s :Server Up %s"
	RPL_STATSOLINE       = ":%s 243 %s O %s * %s %s 0"
	RPL_LUSERCLIENT      = ":%s 251 %s :There are %d users and %d invisible on %d servers"
	RPL_LUSEROP          = ":%s 252 %s %d :operator(s) online"
	RPL_LUSERUNKNOWN     = ":%s 253 %s %d :unknown connection(s)"
	RPL_LUSERCHANNELS    = ":%s 254 %s %d :channels formed"
	RPL_LUSERME          = ":%s 255 %s :I have %d clients and %d servers"
	RPL_ADMINME          = ":%s 256 %s :Administrative info for %s"
	RPL_ADMINLOC1        = ":%s 257 %s :%s"
	RPL_ADMINEMAIL       = ":%s 259 %s :%s"
	RPL_LOCALUSERS       = ":%s 265 %s :Current local users: %d"
	RPL_GLOBALUSERS      = ":%s 266 %s :Current global users: %d"
	RPL_AWAY             = ":%s 301 %s %s :%s"
	RPL_USERHOST         = ":%s 302 %s :%s"
	RPL_ISON             = ":%s 303 %s :%s"
	RPL_UNAWAY           = ":%s 305 %s :You are no longer marked as being away"
	RPL_NOWAWAY          = ":%s 306 %s :You have been marked as being away"
	RPL_WHOISUSER        = ":%s 311 %s %s %s %s * :%s"
	RPL_WHOISSERVER      = ":%s 312 %s %s %s :%s"
	RPL_WHOISOPERATOR    = ":%s 313 %s %s :is an IRC operator of type %s"
	RPL_WHOWASUSER       = ":%s 314 %s %s %s %s * :%s"
	RPL_ENDOFWHO         = ":%s 315 %s %s :End of /WHO list"
	RPL_WHOISIDLE        = ":%s 317 %s %s %d %d :seconds idle, signon time"
	RPL_ENDOFWHOIS       = ":%s 318 %s %s :End of /WHOIS list"
	RPL_WHOISCHANNELS    = ":%s 319 %s %s :%s"
	RPL_LISTSTART        = ":%s 321 %s Channel :Users Name"
	RPL_LIST             = ":%s 322 %s %s %d :%s"
	RPL_LISTEND          = ":%s 323 %s :End of /LIST"
	RPL_CHANNELMODEIS    = ":%s 324 %s %s %s%s"
	RPL_CREATIONTIME     = ":%s 329 %s %s %d"
	RPL_NOTOPIC          = ":%s 331 %s %s :No topic is set"
	RPL_TOPIC            = ":%s 332 %s %s :%s"
	RPL_TOPICWHOTIME     = ":%s 333 %s %s %s %d"
	RPL_INVITING         = ":%s 341 %s %s %s"
	RPL_VERSION          = ":%s 351 %s %s %s :%s"
	RPL_WHOREPLY         = ":%s 352 %s %s %s %s %s %s %s :%d %s"
	RPL_NAMREPLY         = ":%s 353 %s %s %s :%s"
	RPL_LINKS            = ":%s 364 %s %s %s :%d %s"
	RPL_ENDOFLINKS       = ":%s 365 %s * :End of /LINKS list"
	RPL_ENDOFNAMES       = ":%s 366 %s %s :End of /NAMES list"
	RPL_BANLIST          = ":%s 367 %s %s %s %s %d"
	RPL_ENDOFBANLIST     = ":%s 368 %s %s :End of channel ban list"
	RPL_ENDOFWHOWAS      = ":%s 369 %s %s :End of WHOWAS"
	RPL_INFO             = ":%s 371 %s :%s"
	RPL_MOTD             = ":%s 372 %s :- %s"
	RPL_ENDOFINFO        = ":%s 374 %s :End of INFO list"
	RPL_MOTDSTART        = ":%s 375 %s :- %s Message of the Day -"
	RPL_ENDOFMOTD        = ":%s 376 %s :End of /MOTD command"
	RPL_YOUREOPER        = ":%s 381 %s :You are now an IRC operator"
	RPL_REHASHING        = ":%s 382 %s %s :Rehashing"
	RPL_TIME             = ":%s 391 %s %s :%s"
	ERR_NOSUCHNICK       = ":%s 401 %s %s :No such nick/channel"
	ERR_NOSUCHSERVER     = ":%s 402 %s %s :No such server"
	ERR_NOSUCHCHANNEL    = ":%s 403 %s %s :No such channel"
	ERR_CANNOTSENDTOCHAN = ":%s 404 %s %s :Cannot send to channel"
	ERR_WASNOSUCHNICK    = ":%s 406 %s %s :There was no such nickname"
	ERR_NORECIPIENT      = ":%s 411 %s :No recipient given (%s)"
	ERR_NOTEXTTOSEND     = ":%s 412 %s :No text to send"
	ERR_UNKNOWNCOMMAND   = ":%s 421 %s %s :Unknown command"
	ERR_NOMOTD           = ":%s 422 %s :MOTD file is missing"
	ERR_NONICKNAMEGIVEN  = ":%s 431 %s :No nickname given"
	ERR_ERRONEUSNICKNAME = ":%s 432 %s %s :Erroneous nickname"
	ERR_NICKNAMEINUSE    = ":%s 433 %s %s :Nickname is already in use"
	ERR_NICKCOLLISION    = ":%s 436 %s %s :Nickname collision KILL"
	ERR_USERNOTINCHANNEL = ":%s 441 %s %s %s :They aren't on that channel"
	ERR_NOTONCHANNEL     = ":%s 442 %s %s :You're not on that channel"
	ERR_USERONCHANNEL    = ":%s 443 %s %s %s :is already on channel"
	ERR_SUMMONDISABLED   = ":%s 445 %s :SUMMON has been disabled"
	ERR_USERSDISABLED    = ":%s 446 %s :USERS has been disabled"
	ERR_NOTREGISTERED    = ":%s 451 %s :You have not registered"
	ERR_NEEDMOREPARAMS   = ":%s 461 %s %s :Not enough parameters"
	ERR_ALREADYREGISTRED = ":%s 462 %s :You may not reregister"
	ERR_PASSWDMISMATCH   = ":%s 464 %s :Password Incorrect"
	ERR_YOUREBANNEDCREEP = ":%s 465 %s :%s"
	ERR_CHANNELISFULL    = ":%s 471 %s %s :Cannot join channel (+l)"
	ERR_UNKNOWNMODE      = ":%s 472 %s %c :is unknown mode char to me for %s"
	ERR_INVITEONLYCHAN   = ":%s 473 %s %s :Cannot join channel (+i)"
	ERR_BANNEDFROMCHAN   = ":%s 474 %s %s :Cannot join channel (+b)"
	ERR_BADCHANNELKEY    = ":%s 475 %s %s :Cannot join channel (+k)"
	ERR_NOPRIVILEGES     = ":%s 481 %s :Permission Denied - You're not an IRC operator"
	ERR_CHANOPRIVSNEEDED = ":%s 482 %s %s :You're not a channel operator"
	ERR_CANTKILLSERVER   = ":%s 483 %s :You can't kill a server!"
	ERR_NOOPERHOST       = ":%s 491 %s :No O-lines for your host"
	ERR_UMODEUNKNOWNFLAG = ":%s 501 %s :Unknown MODE flag"
	ERR_USERSDONTMATCH   = ":%s 502 %s :Can't change mode for other users"
)

// reply formats a numeric at a local user: server name prefix, target
// nick first, matching classic numerics.
func (s *Server) reply(u *user.User, format string, f ...interface{}) {
	if u.Local == nil {
		return
	}
	target := u.Nick
	if target == "" {
		target = "*"
	}
	args := make([]interface{}, 2+len(f))
	args[0] = s.name
	args[1] = target
	copy(args[2:], f)
	fmt.Fprintf(u.Local, format, args...)
}
